package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler — обработчик события.
// Возвращает error, если обработка не удалась; ошибка изолируется
// и преобразуется во вторичное событие error.occurred.
type Handler func(e *Event) error

// Middleware — стадия цепочки трансформации/фильтрации событий.
// Возвращает событие для доставки подписчикам или nil, чтобы
// подавить доставку (запись в историю при этом сохраняется).
type Middleware func(e *Event) *Event

// Subscription — подписка на события одного типа.
// Используется как handle для Unsubscribe.
type Subscription struct {
	id        uint64
	eventType EventType
	handler   Handler
	async     bool
}

// EventType возвращает тип событий подписки.
func (s *Subscription) EventType() EventType {
	return s.eventType
}

// Bus — шина событий жизненного цикла (pub/sub).
//
// Bus поддерживает:
//   - Синхронных подписчиков: вызываются в порядке регистрации,
//     Publish возвращается после завершения всех
//   - Асинхронных подписчиков: запускаются отдельными горутинами
//     без ожидания (fire-and-forget)
//   - Цепочку middleware для трансформации/фильтрации доставки
//   - Ограниченную историю последних событий (до middleware)
//
// Ошибка или паника любого обработчика изолируется: логируется и
// публикуется как вторичное событие error.occurred синхронным
// подписчикам этого типа. Сбой подписчика никогда не прерывает
// run и не влияет на остальных подписчиков.
type Bus struct {
	mu         sync.RWMutex
	sync       map[EventType][]*Subscription
	async      map[EventType][]*Subscription
	middleware []Middleware
	history    *history
	nextSubID  uint64

	logger *slog.Logger
}

// New создаёт новую шину событий.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		sync:    make(map[EventType][]*Subscription),
		async:   make(map[EventType][]*Subscription),
		history: newHistory(),
		logger:  logger,
	}
}

// Subscribe регистрирует синхронный обработчик для типа события.
// Обработчики одного типа вызываются в порядке регистрации.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	return b.subscribe(eventType, handler, false)
}

// SubscribeAsync регистрирует асинхронный обработчик: при Publish
// он запускается отдельной горутиной без ожидания завершения.
func (b *Bus) SubscribeAsync(eventType EventType, handler Handler) *Subscription {
	return b.subscribe(eventType, handler, true)
}

func (b *Bus) subscribe(eventType EventType, handler Handler, async bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:        b.nextSubID,
		eventType: eventType,
		handler:   handler,
		async:     async,
	}

	if async {
		b.async[eventType] = append(b.async[eventType], sub)
	} else {
		b.sync[eventType] = append(b.sync[eventType], sub)
	}

	return sub
}

// Unsubscribe удаляет подписку. No-op, если подписка nil или уже удалена.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	table := b.sync
	if sub.async {
		table = b.async
	}

	subs := table[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			table[sub.eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// AddMiddleware добавляет стадию в цепочку middleware.
// Порядок регистрации — порядок применения (слева направо).
func (b *Bus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Publish публикует событие (fire-and-forget для асинхронных подписчиков).
//
// Порядок обработки:
//  1. Исходное событие записывается в историю (до middleware)
//  2. Цепочка middleware вычисляет событие для доставки;
//     nil — доставка подавляется, запись в истории сохраняется
//  3. Синхронные обработчики вызываются по порядку регистрации,
//     каждый изолированно; Publish возвращается после их завершения
//  4. Асинхронные обработчики запускаются горутинами без ожидания
func (b *Bus) Publish(e *Event) {
	delivery, syncSubs, asyncSubs := b.prepare(e)
	if delivery == nil {
		return
	}

	for _, sub := range syncSubs {
		b.invoke(sub, delivery)
	}

	for _, sub := range asyncSubs {
		go b.invoke(sub, delivery)
	}
}

// PublishAndWait публикует событие и ожидает завершения всех обработчиков.
//
// Семантика записи/middleware/изоляции идентична Publish, но синхронные
// и асинхронные обработчики запускаются одной конкурентной пачкой, и
// вызов возвращается только после завершения (или сбоя) каждого из них.
func (b *Bus) PublishAndWait(e *Event) {
	delivery, syncSubs, asyncSubs := b.prepare(e)
	if delivery == nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(syncSubs) + len(asyncSubs))

	run := func(sub *Subscription) {
		defer wg.Done()
		b.invoke(sub, delivery)
	}

	for _, sub := range syncSubs {
		go run(sub)
	}
	for _, sub := range asyncSubs {
		go run(sub)
	}

	wg.Wait()
}

// prepare записывает событие в историю, применяет middleware и
// возвращает событие для доставки вместе со snapshot'ами подписчиков.
// Возвращает nil-событие, если middleware подавил доставку.
func (b *Bus) prepare(e *Event) (*Event, []*Subscription, []*Subscription) {
	b.mu.Lock()
	b.history.append(e)
	middleware := b.middleware
	b.mu.Unlock()

	// Middleware применяется вне lock: стадии могут быть медленными
	delivery := e
	for _, mw := range middleware {
		delivery = mw(delivery)
		if delivery == nil {
			return nil, nil, nil
		}
	}

	b.mu.RLock()
	syncSubs := append([]*Subscription(nil), b.sync[delivery.Type]...)
	asyncSubs := append([]*Subscription(nil), b.async[delivery.Type]...)
	b.mu.RUnlock()

	return delivery, syncSubs, asyncSubs
}

// invoke вызывает обработчик изолированно: ошибка или паника
// логируется и преобразуется во вторичное событие error.occurred.
func (b *Bus) invoke(sub *Subscription, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportHandlerError(e, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := sub.handler(e); err != nil {
		b.reportHandlerError(e, err)
	}
}

// reportHandlerError логирует сбой обработчика и доставляет вторичное
// событие error.occurred синхронным подписчикам error.occurred.
//
// Вторичная доставка не проходит через middleware и не рекурсивна:
// сбой обработчика error.occurred только логируется.
func (b *Bus) reportHandlerError(e *Event, err error) {
	b.logger.Error("event handler failed",
		"event_type", e.Type,
		"event_id", e.ID,
		"correlation_id", e.CorrelationID,
		"error", err,
	)

	// Не рекурсируем: сбой обработчика error.occurred не порождает
	// новое событие
	if e.Type == EventErrorOccurred {
		return
	}

	secondary := NewEvent(EventErrorOccurred, "bus", e.CorrelationID, map[string]any{
		"error":      err.Error(),
		"event_type": string(e.Type),
		"event_id":   e.ID.String(),
	})

	b.mu.Lock()
	b.history.append(secondary)
	b.mu.Unlock()

	b.mu.RLock()
	subs := append([]*Subscription(nil), b.sync[EventErrorOccurred]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, secondary)
	}
}

// GetHistory возвращает последние limit событий в хронологическом
// порядке, опционально отфильтрованные по типу. В истории хранятся
// события до применения middleware (полный audit trail).
//
// typeFilter="" — без фильтра; limit<=0 — все события.
func (b *Bus) GetHistory(typeFilter EventType, limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.recent(typeFilter, limit)
}

// HistorySize возвращает количество событий в истории.
func (b *Bus) HistorySize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.size()
}
