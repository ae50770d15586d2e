package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
)

// StepExecutor — единица работы, привязанная к шагу.
//
// Исполнитель обязан уважать ctx: при отмене или таймауте run'а
// контекст закрывается, и исполнитель должен вернуться как можно
// скорее. Возвращённая map становится outputs шага и доступна
// последующим шагам через шаблоны.
type StepExecutor func(ctx context.Context, step *domain.StepSpec, rc *RunContext) (map[string]any, error)

// TypedExecutor — исполнитель для всех шагов одного типа.
//
// Встроенные типы (http, delay, transform) реализуют этот интерфейс
// и регистрируются в Registry как значения по умолчанию.
type TypedExecutor interface {
	// Type возвращает тип шага, который обслуживает исполнитель.
	Type() string

	// Execute выполняет шаг и возвращает его outputs.
	Execute(ctx context.Context, step *domain.StepSpec, rc *RunContext) (map[string]any, error)
}

// RunContext — данные run'а, доступные шагу при выполнении.
//
// Outputs содержит только завершённые шаги и передаётся исполнителю
// как read-only view: исполнители не должны его мутировать.
type RunContext struct {
	// RunID — идентификатор run'а.
	RunID uuid.UUID

	// Inputs — статические входные параметры run'а.
	Inputs map[string]any

	// Outputs — выходные данные завершённых шагов по id шага.
	Outputs map[string]map[string]any

	// Env — переменные окружения, доступные шаблонам.
	Env map[string]string
}

// NewRunContext создаёт контекст run'а.
func NewRunContext(runID uuid.UUID, inputs map[string]any) *RunContext {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &RunContext{
		RunID:   runID,
		Inputs:  inputs,
		Outputs: make(map[string]map[string]any),
		Env:     make(map[string]string),
	}
}

// AddOutputs добавляет outputs завершённого шага.
func (rc *RunContext) AddOutputs(stepID string, outputs map[string]any) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	rc.Outputs[stepID] = outputs
}

// Clone возвращает неглубокую копию контекста с собственными картами
// верхнего уровня. Используется для передачи snapshot'а исполнителю,
// чтобы конкурентные шаги не гонялись за одной картой.
func (rc *RunContext) Clone() *RunContext {
	cp := &RunContext{
		RunID:   rc.RunID,
		Inputs:  rc.Inputs,
		Outputs: make(map[string]map[string]any, len(rc.Outputs)),
		Env:     rc.Env,
	}
	for id, out := range rc.Outputs {
		cp.Outputs[id] = out
	}
	return cp
}

// Registry — реестр исполнителей шагов.
//
// Разрешение исполнителя для шага:
//  1. Binding по id шага (RegisterStepExecutor) — имеет приоритет
//  2. TypedExecutor по типу шага
//
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]StepExecutor
	typed    map[string]TypedExecutor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]StepExecutor),
		typed:    make(map[string]TypedExecutor),
	}
}

// DefaultRegistry создаёт реестр со встроенными исполнителями.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterType(NewHTTPExecutor())
	r.RegisterType(NewDelayExecutor())
	r.RegisterType(NewTransformExecutor())
	return r
}

// Bind привязывает исполнителя к конкретному id шага.
// Перезаписывает предыдущий binding для того же id.
func (r *Registry) Bind(stepID string, fn StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[stepID] = fn
}

// Unbind удаляет binding для id шага.
func (r *Registry) Unbind(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, stepID)
}

// RegisterType регистрирует исполнителя по типу шага.
// Перезаписывает предыдущего исполнителя того же типа.
func (r *Registry) RegisterType(exec TypedExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typed[exec.Type()] = exec
}

// Resolve возвращает исполнителя для шага.
// Binding по id имеет приоритет над типом.
func (r *Registry) Resolve(step *domain.StepSpec) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.bindings[step.ID]; ok {
		return fn, nil
	}

	if exec, ok := r.typed[step.Type]; ok {
		return exec.Execute, nil
	}

	return nil, fmt.Errorf("%w: step %q type %q", ErrExecutorNotFound, step.ID, step.Type)
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.typed))
	for t := range r.typed {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
