package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Cascade/internal/bus"
)

// publishTimeout — таймаут публикации одного события в AMQP.
const publishTimeout = 10 * time.Second

// bridgedEvents — типы событий, транслируемые во внешний брокер.
var bridgedEvents = []bus.EventType{
	bus.EventWorkflowStarted,
	bus.EventStepStarted,
	bus.EventStepCompleted,
	bus.EventWorkflowCompleted,
	bus.EventWorkflowFailed,
	bus.EventWorkflowCancelled,
	bus.EventErrorOccurred,
}

// Bridge транслирует события внутренней шины во внешний AMQP брокер.
//
// Подписывается асинхронно: медленный или недоступный брокер не
// задерживает scheduling loop. Ошибка публикации логируется и
// изолируется шиной как обычный сбой обработчика.
type Bridge struct {
	publisher *Publisher
	logger    *slog.Logger

	subs []*bus.Subscription
}

// NewBridge создаёт Bridge поверх соединения.
func NewBridge(conn *Connection, logger *slog.Logger) *Bridge {
	return &Bridge{
		publisher: NewPublisher(conn, logger),
		logger:    logger,
	}
}

// Attach подписывает Bridge на все события шины.
func (b *Bridge) Attach(eventBus *bus.Bus) {
	for _, et := range bridgedEvents {
		sub := eventBus.SubscribeAsync(et, b.forward)
		b.subs = append(b.subs, sub)
	}
	b.logger.Info("event bridge attached", "event_types", len(bridgedEvents))
}

// Detach отписывает Bridge от шины.
func (b *Bridge) Detach(eventBus *bus.Bus) {
	for _, sub := range b.subs {
		eventBus.Unsubscribe(sub)
	}
	b.subs = nil
}

// forward публикует одно событие шины в AMQP.
func (b *Bridge) forward(e *bus.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.publisher.PublishEvent(ctx, e)
}
