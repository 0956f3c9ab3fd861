package worker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/queue"
)

// MockAcknowledger records how deliveries were settled.
type MockAcknowledger struct {
	mu      sync.Mutex
	Acks    []uint64
	Requeue []uint64
	Dropped []uint64
}

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acks = append(m.Acks, tag)
	return nil
}

func (m *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if requeue {
		m.Requeue = append(m.Requeue, tag)
	} else {
		m.Dropped = append(m.Dropped, tag)
	}
	return nil
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}

func (m *MockAcknowledger) Settled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Acks) + len(m.Requeue) + len(m.Dropped)
}

// MockIngester returns Err for every message and records what it saw.
type MockIngester struct {
	mu   sync.Mutex
	Err  error
	Seen []models.FetchMessage
}

func (m *MockIngester) Ingest(ctx context.Context, msg models.FetchMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Seen = append(m.Seen, msg)
	return m.Err
}

// MockChannel satisfies queue.Channel; only Close is used by the pool.
type MockChannel struct {
	queue.Channel
	mu     sync.Mutex
	Closed bool
}

func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockChannel) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// MockConsumer hands out one delivery channel per Consume call. FailAt fails
// the Nth call; FailNext fails the next calls until it reaches zero.
type MockConsumer struct {
	mu       sync.Mutex
	Streams  []chan amqp.Delivery
	Channels []*MockChannel
	Tags     []string
	FailAt   int
	FailNext int
	Failures int
}

func (m *MockConsumer) Consume(tag string) (<-chan amqp.Delivery, queue.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAt > 0 && len(m.Tags)+1 == m.FailAt {
		m.Failures++
		return nil, nil, errors.New("channel open failed")
	}
	if m.FailNext > 0 {
		m.FailNext--
		m.Failures++
		return nil, nil, errors.New("connection refused")
	}
	m.Tags = append(m.Tags, tag)
	stream := make(chan amqp.Delivery, 16)
	ch := &MockChannel{}
	m.Streams = append(m.Streams, stream)
	m.Channels = append(m.Channels, ch)
	return stream, ch, nil
}

func (m *MockConsumer) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Tags)
}

func (m *MockConsumer) Stream(i int) chan amqp.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Streams[i]
}

func (m *MockConsumer) Channel(i int) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Channels[i]
}
