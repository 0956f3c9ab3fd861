package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

var (
	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_queue_published_total",
		Help: "Messages published to the ingest queue by result",
	}, []string{"result"})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "owstats_queue_publish_duration_seconds",
		Help:    "Time to publish and confirm one message",
		Buckets: prometheus.DefBuckets,
	})
)

// ErrNotConfirmed is returned when the broker nacks a publish.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Dialer opens channels on a broker connection.
type Dialer interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// amqpConn redials url when a channel is requested after the connection
// dropped.
type amqpConn struct {
	url    string
	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

func (c *amqpConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("redial rabbitmq: %w", err)
		}
		c.conn = conn
	}
	return c.conn.Channel()
}

func (c *amqpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.conn.Close()
}

func (c *amqpConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

// BrokerConfig configures the broker client.
type BrokerConfig struct {
	MessageTTL     time.Duration
	Prefetch       int
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

// Broker publishes to and consumes from the ingest queue.
type Broker struct {
	conn   Dialer
	config BrokerConfig
	logger *zap.SugaredLogger

	pubMu sync.Mutex
	pubCh Channel
}

// Dial connects to RabbitMQ at url and declares the topology.
func Dial(url string, cfg BrokerConfig) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	b, err := NewBroker(&amqpConn{url: url, conn: conn}, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// NewBroker declares the topology on conn and opens a confirming publish channel.
func NewBroker(conn Dialer, cfg BrokerConfig) (*Broker, error) {
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = time.Hour
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &Broker{
		conn:   conn,
		config: cfg,
		logger: cfg.Logger.Sugar(),
	}
	if err := b.openPublisher(); err != nil {
		return nil, err
	}
	b.logger.Infow("RabbitMQ topology declared",
		"queue", PlayerDataQueue,
		"deadLetterQueue", DeadLetterQueue,
		"messageTTL", cfg.MessageTTL,
	)
	return b, nil
}

// openPublisher declares the topology on a fresh channel and puts it in
// confirm mode. Callers other than NewBroker hold pubMu.
func (b *Broker) openPublisher() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := DeclareTopology(ch, b.config.MessageTTL); err != nil {
		ch.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	b.pubCh = ch
	return nil
}

// Publish sends one message to the ingest queue and waits for the broker
// confirm.
func (b *Broker) Publish(ctx context.Context, msg models.FetchMessage) error {
	pub, err := Encode(msg)
	if err != nil {
		messagesPublished.WithLabelValues("encode_error").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	defer func() { publishDuration.Observe(time.Since(start).Seconds()) }()

	b.pubMu.Lock()
	dc, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", PlayerDataQueue, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) {
		// The channel died with the connection; reopen once and retry.
		b.logger.Warnw("Publish channel closed, reopening", "error", err)
		if err = b.openPublisher(); err == nil {
			dc, err = b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", PlayerDataQueue, false, false, pub)
		}
	}
	b.pubMu.Unlock()
	if err != nil {
		messagesPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", msg.Battletag, err)
	}

	// dc is nil when the channel is not in confirm mode.
	if dc != nil {
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			messagesPublished.WithLabelValues("error").Inc()
			return fmt.Errorf("await confirm for %s: %w", msg.Battletag, err)
		}
		if !ok {
			messagesPublished.WithLabelValues("nacked").Inc()
			return fmt.Errorf("publish %s: %w", msg.Battletag, ErrNotConfirmed)
		}
	}

	messagesPublished.WithLabelValues("ok").Inc()
	b.logger.Debugw("message published", "battletag", msg.Battletag, "messageId", pub.MessageId)
	return nil
}

// Consume opens a dedicated channel with the configured prefetch and starts a
// consumer on the ingest queue. Deliveries require explicit ack.
func (b *Broker) Consume(consumerTag string) (<-chan amqp.Delivery, Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(b.config.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(PlayerDataQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", PlayerDataQueue, err)
	}
	return deliveries, ch, nil
}

// Depths reports ready-message counts of the ingest and dead-letter queues.
func (b *Broker) Depths() (ready int, deadLettered int, err error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, 0, fmt.Errorf("open inspect channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(PlayerDataQueue, true, false, false, false, QueueArgs(b.config.MessageTTL))
	if err != nil {
		return 0, 0, fmt.Errorf("inspect %s: %w", PlayerDataQueue, err)
	}
	dlq, err := ch.QueueDeclarePassive(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("inspect %s: %w", DeadLetterQueue, err)
	}
	return q.Messages, dlq.Messages, nil
}

// Ping reports whether the broker connection is open.
func (b *Broker) Ping() error {
	if b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the publish channel and the connection.
func (b *Broker) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	return b.conn.Close()
}
