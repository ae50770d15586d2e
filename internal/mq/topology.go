package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// ExchangeEvents — topic-обменник событий жизненного цикла.
// Routing key — тип события (workflow.started, step.completed, ...),
// внешние потребители подписываются по паттернам ("workflow.*", "#").
const ExchangeEvents Exchange = "cascade.events"

// QueueEventsAudit — очередь полного audit trail: привязана к
// обменнику паттерном "#" и получает все события.
const QueueEventsAudit Queue = "events.audit"

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			"topic",                // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		_, err = ch.QueueDeclare(
			string(QueueEventsAudit), // name
			true,                     // durable
			false,                    // auto-delete
			false,                    // exclusive
			false,                    // no-wait
			nil,                      // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueEventsAudit, err)
		}

		err = ch.QueueBind(
			string(QueueEventsAudit),
			"#", // все события
			string(ExchangeEvents),
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", QueueEventsAudit, err)
		}

		return nil
	})
}
