// Package queue carries fetched player documents from the fetcher to the
// ingest consumers over RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names. Rejected or expired messages on PlayerDataQueue are routed by
// the broker to DeadLetterQueue unmodified.
const (
	PlayerDataQueue      = "player.data.queue"
	DeadLetterExchange   = "player.data.dlx"
	DeadLetterQueue      = "player.data.dlq"
	DeadLetterRoutingKey = "dead.letter"
)

// Channel is the subset of *amqp.Channel the package uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// QueueArgs are the arguments the ingest queue is declared with.
func QueueArgs(ttl time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             ttl.Milliseconds(),
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}
}

// DeclareTopology declares the dead-letter exchange and queue, then the
// durable ingest queue pointing at them. It is idempotent.
func DeclareTopology(ch Channel, ttl time.Duration) error {
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", DeadLetterQueue, err)
	}
	if _, err := ch.QueueDeclare(PlayerDataQueue, true, false, false, false, QueueArgs(ttl)); err != nil {
		return fmt.Errorf("declare queue %s: %w", PlayerDataQueue, err)
	}
	return nil
}
