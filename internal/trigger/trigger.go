// Package trigger debounces "player data changed" events into aggregation runs.
package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/clock"
)

var triggerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "owstats_trigger_events_total",
	Help: "Recalculation trigger events by result",
}, []string{"result"})

// State of the debouncer.
type State int

const (
	Idle State = iota
	Cooldown
)

func (s State) String() string {
	if s == Cooldown {
		return "cooldown"
	}
	return "idle"
}

// FireFunc runs a recomputation.
type FireFunc func(ctx context.Context)

// Config for a Trigger.
type Config struct {
	Cooldown time.Duration
	Fire     FireFunc
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Trigger fires at most once per cooldown window and never while a previous
// fire is still running. Events that lose are dropped, not queued.
type Trigger struct {
	cooldown time.Duration
	fire     FireFunc
	clock    clock.Clock
	logger   *zap.SugaredLogger

	// lastFire is UnixNano of the last fire; 0 means never.
	lastFire atomic.Int64
	running  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Trigger {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		cooldown: cfg.Cooldown,
		fire:     cfg.Fire,
		clock:    cfg.Clock,
		logger:   cfg.Logger.Sugar(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State reports Cooldown while the last fire is within the window.
func (t *Trigger) State() State {
	last := t.lastFire.Load()
	if last != 0 && t.clock.Now().Sub(time.Unix(0, last)) <= t.cooldown {
		return Cooldown
	}
	return Idle
}

// Notify records an ingest success. When idle it moves to Cooldown and starts
// the fire function in the background; otherwise the event is dropped.
// It reports whether a fire was started.
func (t *Trigger) Notify() bool {
	if t.ctx.Err() != nil {
		return false
	}

	now := t.clock.Now()
	last := t.lastFire.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) <= t.cooldown {
		triggerEvents.WithLabelValues("debounced").Inc()
		return false
	}

	if !t.running.CompareAndSwap(false, true) {
		triggerEvents.WithLabelValues("busy").Inc()
		return false
	}
	// Another caller may have fired between the Load and the gate.
	if !t.lastFire.CompareAndSwap(last, now.UnixNano()) {
		t.running.Store(false)
		triggerEvents.WithLabelValues("debounced").Inc()
		return false
	}

	triggerEvents.WithLabelValues("fired").Inc()
	t.logger.Infow("Recalculation triggered", "cooldown", t.cooldown)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				t.logger.Errorw("Recalculation panic", "error", r)
			}
		}()
		if t.fire != nil {
			t.fire(t.ctx)
		}
	}()
	return true
}

// Wait blocks until any in-flight fire returns.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// Stop cancels an in-flight fire's context, waits for it, and drops all
// further events.
func (t *Trigger) Stop() {
	t.cancel()
	t.wg.Wait()
}
