package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события жизненного цикла.
type EventType string

// Типы событий, публикуемых оркестратором.
const (
	// EventWorkflowStarted — run стартовал.
	EventWorkflowStarted EventType = "workflow.started"

	// EventStepStarted — шаг перешёл в RUNNING.
	EventStepStarted EventType = "step.started"

	// EventStepCompleted — шаг перешёл в терминальный статус.
	EventStepCompleted EventType = "step.completed"

	// EventWorkflowCompleted — все шаги завершились успешно.
	EventWorkflowCompleted EventType = "workflow.completed"

	// EventWorkflowFailed — run завершился с ошибкой.
	EventWorkflowFailed EventType = "workflow.failed"

	// EventWorkflowCancelled — run отменён пользователем.
	EventWorkflowCancelled EventType = "workflow.cancelled"

	// EventErrorOccurred — вторичное событие об ошибке подписчика.
	EventErrorOccurred EventType = "error.occurred"
)

// Event — событие жизненного цикла.
//
// Event неизменяем после создания: middleware, которому нужно
// трансформировать событие, возвращает копию (см. Clone), а не
// мутирует оригинал. В истории шины хранится событие в том виде,
// в каком оно было передано в Publish (до middleware).
type Event struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Payload — полезная нагрузка.
	Payload map[string]any `json:"payload,omitempty"`

	// Source — имя компонента-источника (например, "orchestrator").
	Source string `json:"source"`

	// Timestamp — время создания события.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID — идентификатор run'а, к которому относится событие.
	// Группирует все события одного run.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewEvent создаёт новое событие.
func NewEvent(eventType EventType, source, correlationID string, payload map[string]any) *Event {
	return &Event{
		ID:            uuid.New(),
		Type:          eventType,
		Payload:       payload,
		Source:        source,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// Clone возвращает копию события с собственной картой payload.
// Используется middleware для трансформации без мутации оригинала.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	return &cp
}
