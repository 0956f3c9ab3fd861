// Package worker runs the queue consumers that feed fetched player documents
// into ingest.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/ingest"
	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/queue"
)

var (
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_messages_consumed_total",
		Help: "Queue messages handled by consumers, by disposition",
	}, []string{"disposition"})

	consumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "owstats_consumers_active",
		Help: "Running queue consumers",
	})

	consumerReopens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_consumer_reopens_total",
		Help: "Delivery stream reopen attempts after the stream closed, by result",
	}, []string{"result"})
)

// Disposition is what a consumer does with a delivery.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Classify maps an ingest outcome to a disposition. Malformed input is
// acknowledged and dropped. Other failures are requeued once and
// dead-lettered on redelivery.
func Classify(err error, redelivered bool) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, queue.ErrBadMessage), errors.Is(err, ingest.ErrMalformed):
		return Ack
	case redelivered:
		return DeadLetter
	default:
		return Requeue
	}
}

// Ingester persists one fetched document.
type Ingester interface {
	Ingest(ctx context.Context, msg models.FetchMessage) error
}

// Consumer opens a delivery stream on its own channel.
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, queue.Channel, error)
}

// PoolConfig configures the consumer pool.
type PoolConfig struct {
	WorkerCount    int
	ConsumerPrefix string
	Consumer       Consumer
	Ingester       Ingester
	// ReconnectDelay is the first backoff step when a closed delivery
	// stream is reopened. Later steps double up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            *zap.Logger
}

// Pool runs WorkerCount consumers, each with its own channel and delivery
// stream. Deliveries are acknowledged only after ingest returns.
type Pool struct {
	config PoolConfig
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger

	mu       sync.Mutex
	channels []queue.Channel
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ConsumerPrefix == "" {
		cfg.ConsumerPrefix = "owstats-ingest"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{
		config: cfg,
		logger: cfg.Logger.Sugar(),
	}
}

// Start opens the consumers. If any consumer fails to open, the ones already
// running are stopped and the error is returned.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.channels = make([]queue.Channel, p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		tag := fmt.Sprintf("%s-%d", p.config.ConsumerPrefix, i)
		deliveries, ch, err := p.config.Consumer.Consume(tag)
		if err != nil {
			p.Stop()
			return fmt.Errorf("start consumer %s: %w", tag, err)
		}
		p.setChannel(i, ch)

		p.wg.Add(1)
		go p.worker(i, tag, deliveries)
	}

	p.logger.Infow("Consumer pool started", "workers", p.config.WorkerCount)
	return nil
}

// Stop cancels the consumers and waits for in-flight messages to finish.
// Unacknowledged deliveries return to the queue when their channel closes.
func (p *Pool) Stop() {
	p.logger.Info("Stopping consumer pool...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.channels {
		closeChannel(ch, p.logger)
	}
	p.channels = nil
	p.logger.Info("Consumer pool stopped")
}

func (p *Pool) setChannel(id int, ch queue.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old := p.channels[id]; old != nil {
		closeChannel(old, p.logger)
	}
	p.channels[id] = ch
}

func closeChannel(ch queue.Channel, logger *zap.SugaredLogger) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		logger.Warnw("Failed to close consumer channel", "error", err)
	}
}

func (p *Pool) worker(id int, tag string, deliveries <-chan amqp.Delivery) {
	defer p.wg.Done()
	consumersActive.Inc()
	defer consumersActive.Dec()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				p.logger.Warnw("Delivery channel closed, reopening", "worker", id, "consumer", tag)
				deliveries, ok = p.reopen(id, tag)
				if !ok {
					return
				}
				continue
			}
			p.handle(id, d)

		case <-p.ctx.Done():
			return
		}
	}
}

// reopen retries Consume with capped exponential backoff until it succeeds
// or the pool stops.
func (p *Pool) reopen(id int, tag string) (<-chan amqp.Delivery, bool) {
	backoff := retry.WithCappedDuration(p.config.MaxReconnectDelay, retry.NewExponential(p.config.ReconnectDelay))

	var deliveries <-chan amqp.Delivery
	err := retry.Do(p.ctx, backoff, func(ctx context.Context) error {
		d, ch, err := p.config.Consumer.Consume(tag)
		if err != nil {
			consumerReopens.WithLabelValues("error").Inc()
			p.logger.Warnw("Failed to reopen consumer", "worker", id, "consumer", tag, "error", err)
			return retry.RetryableError(err)
		}
		p.setChannel(id, ch)
		deliveries = d
		return nil
	})
	if err != nil {
		// Only a cancelled pool ends the retry loop.
		return nil, false
	}

	consumerReopens.WithLabelValues("ok").Inc()
	p.logger.Infow("Consumer reopened", "worker", id, "consumer", tag)
	return deliveries, true
}

// handle ingests one delivery and settles it.
func (p *Pool) handle(id int, d amqp.Delivery) Disposition {
	start := time.Now()

	msg, err := queue.Decode(d)
	if err == nil {
		// In-flight ingest finishes even when the pool is stopping.
		err = p.config.Ingester.Ingest(context.WithoutCancel(p.ctx), msg)
	}

	disp := Classify(err, d.Redelivered)
	p.log(id, d, msg, err, disp, time.Since(start))

	var settleErr error
	switch disp {
	case Ack:
		settleErr = d.Ack(false)
	case Requeue:
		settleErr = d.Nack(false, true)
	case DeadLetter:
		settleErr = d.Nack(false, false)
	}
	if settleErr != nil {
		p.logger.Errorw("Failed to settle delivery", "worker", id, "disposition", disp.String(), "error", settleErr)
	}

	messagesConsumed.WithLabelValues(disp.String()).Inc()
	return disp
}

func (p *Pool) log(id int, d amqp.Delivery, msg models.FetchMessage, err error, disp Disposition, took time.Duration) {
	if err == nil {
		p.logger.Debugw("Message ingested", "worker", id, "battletag", msg.Battletag, "duration", took)
		return
	}

	fields := []interface{}{
		"worker", id,
		"battletag", msg.Battletag,
		"platform", msg.Platform,
		"redelivered", d.Redelivered,
		"disposition", disp.String(),
		"error", err,
	}
	switch disp {
	case Ack:
		fields = append(fields, "bytes", len(d.Body), "payload", truncate(d.Body, 256))
		p.logger.Warnw("Dropping malformed message", fields...)
	case Requeue:
		p.logger.Errorw("Ingest failed, requeueing", fields...)
	case DeadLetter:
		p.logger.Errorw("Ingest failed on redelivery, dead-lettering", fields...)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
