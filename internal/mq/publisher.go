package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/bus"
)

// Publisher публикует события жизненного цикла в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishEvent публикует событие в обменник cascade.events.
// Routing key — тип события, что позволяет внешним потребителям
// фильтровать по паттернам ("workflow.*", "step.#").
func (p *Publisher) PublishEvent(ctx context.Context, e *bus.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents), // exchange
			string(e.Type),         // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:   "application/json",
				DeliveryMode:  amqp.Persistent, // событие переживёт рестарт RabbitMQ
				MessageId:     e.ID.String(),
				Timestamp:     e.Timestamp,
				CorrelationId: e.CorrelationID,
				Body:          body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish event %s: %w", e.Type, err)
		}

		p.logger.Debug("published event to mq",
			"exchange", ExchangeEvents,
			"routing_key", e.Type,
			"event_id", e.ID,
		)

		return nil
	})
}
