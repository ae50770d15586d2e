package capability

import (
	"log/slog"
	"sync"
)

// Manager — управление capability-тегами шагов.
//
// Оркестратор вызывает Activate для каждого тега шага перед его
// запуском и Deactivate после завершения (независимо от исхода).
type Manager interface {
	// Activate активирует capability по имени.
	Activate(name string)

	// Deactivate снимает активацию capability по имени.
	Deactivate(name string)

	// Active возвращает имена активных в данный момент capabilities.
	Active() []string

	// IsActive сообщает, активна ли capability.
	IsActive(name string) bool
}

// RefCountManager — потокобезопасный Manager со счётчиком держателей.
//
// Несколько конкурентных шагов могут требовать один и тот же тег:
// capability считается активной, пока её держит хотя бы один шаг,
// и деактивируется только когда последний держатель вызвал Deactivate.
type RefCountManager struct {
	mu      sync.Mutex
	holders map[string]int

	logger *slog.Logger
}

// NewRefCountManager создаёт пустой RefCountManager.
func NewRefCountManager(logger *slog.Logger) *RefCountManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefCountManager{
		holders: make(map[string]int),
		logger:  logger,
	}
}

// Activate увеличивает счётчик держателей capability.
// Первый держатель переводит capability в активное состояние.
func (m *RefCountManager) Activate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.holders[name]++
	if m.holders[name] == 1 {
		m.logger.Debug("capability activated", "capability", name)
	}
}

// Deactivate уменьшает счётчик держателей capability.
// Capability деактивируется, когда последний держатель освободил её.
// Deactivate без предшествующего Activate — no-op (логируется).
func (m *RefCountManager) Deactivate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, ok := m.holders[name]
	if !ok {
		m.logger.Warn("deactivate of inactive capability", "capability", name)
		return
	}

	if count <= 1 {
		delete(m.holders, name)
		m.logger.Debug("capability deactivated", "capability", name)
		return
	}
	m.holders[name] = count - 1
}

// Active возвращает имена активных capabilities.
// Порядок не определён.
func (m *RefCountManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.holders))
	for name := range m.holders {
		names = append(names, name)
	}
	return names
}

// IsActive сообщает, держит ли кто-нибудь capability.
func (m *RefCountManager) IsActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders[name] > 0
}

// Holders возвращает количество держателей capability.
func (m *RefCountManager) Holders(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders[name]
}
