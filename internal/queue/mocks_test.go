package queue

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type MockChannel struct {
	mu         sync.Mutex
	Exchanges  []string
	Queues     []declaredQueue
	Bindings   []string
	Published  []amqp.Publishing
	Confirming bool
	Prefetch   int
	Deliveries chan amqp.Delivery
	PublishErr error
	QueueErr   error
	Depth      map[string]int
	Closed     bool
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.Exchanges = append(m.Exchanges, name+":"+kind)
	return nil
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.QueueErr != nil {
		return amqp.Queue{}, m.QueueErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	m.Queues = append(m.Queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (m *MockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: m.Depth[name]}, nil
}

func (m *MockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.Bindings = append(m.Bindings, exchange+"->"+key+"->"+name)
	return nil
}

func (m *MockChannel) Confirm(noWait bool) error {
	m.Confirming = true
	return nil
}

func (m *MockChannel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return nil, m.PublishErr
	}
	if key != PlayerDataQueue {
		return nil, errors.New("unexpected routing key " + key)
	}
	m.Published = append(m.Published, msg)
	return nil, nil
}

func (m *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.Prefetch = prefetchCount
	return nil
}

func (m *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto-ack not allowed")
	}
	return m.Deliveries, nil
}

func (m *MockChannel) Close() error {
	m.Closed = true
	return nil
}

type MockDialer struct {
	Channels []*MockChannel
	next     int
	closed   bool
}

func (d *MockDialer) Channel() (Channel, error) {
	if d.next >= len(d.Channels) {
		return nil, errors.New("no more channels")
	}
	ch := d.Channels[d.next]
	d.next++
	return ch, nil
}

func (d *MockDialer) Close() error {
	d.closed = true
	return nil
}

func (d *MockDialer) IsClosed() bool { return d.closed }
