// Package aggregator recomputes the derived statistics tables.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/owmeta/stats-api/internal/clock"
)

var (
	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "owstats_aggregation_pass_duration_seconds",
		Help:    "Duration of each aggregation pass",
		Buckets: prometheus.DefBuckets,
	}, []string{"pass"})

	passFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_aggregation_pass_failures_total",
		Help: "Aggregation passes that returned an error",
	}, []string{"pass"})

	lastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "owstats_aggregation_last_run_timestamp_seconds",
		Help: "Unix time the last aggregation run finished",
	})
)

// Pass names.
const (
	PassHeroStatistics   = "hero_statistics"
	PassRankDistribution = "rank_distribution"
	PassHeroTrends       = "hero_trends"
	PassRoleStatistics   = "role_statistics"
)

// Store recomputes the derived tables. Each call replaces its table.
type Store interface {
	RecomputeHeroStatistics(ctx context.Context, now time.Time) (int64, error)
	RecomputeRankDistribution(ctx context.Context, now time.Time) (int64, error)
	RecomputeHeroTrends(ctx context.Context, now time.Time) (int64, error)
	RecomputeRoleStatistics(ctx context.Context, now time.Time) (int64, error)
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Pass     string        `json:"pass"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Run is the outcome of one aggregation run.
type Run struct {
	ID         string       `json:"run_id"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Passes     []PassResult `json:"passes"`
}

// Failed counts passes that returned an error.
func (r Run) Failed() int {
	n := 0
	for _, p := range r.Passes {
		if p.Error != "" {
			n++
		}
	}
	return n
}

// Hook runs after every aggregation run.
type Hook func(ctx context.Context, run Run)

// Config for an Aggregator.
type Config struct {
	Store   Store
	Clock   clock.Clock
	Timeout time.Duration
	Logger  *zap.Logger
}

// Aggregator runs the four passes independently. Runs are serialised.
type Aggregator struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.SugaredLogger

	runMu sync.Mutex
	hooks []Hook
}

func New(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Aggregator{
		store:   cfg.Store,
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.Sugar(),
	}
}

// OnComplete registers a hook called after each run. Not safe to call
// concurrently with Run.
func (a *Aggregator) OnComplete(h Hook) {
	a.hooks = append(a.hooks, h)
}

type pass struct {
	name string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

func (a *Aggregator) passes() []pass {
	return []pass{
		{PassHeroStatistics, a.store.RecomputeHeroStatistics},
		{PassRankDistribution, a.store.RecomputeRankDistribution},
		{PassHeroTrends, a.store.RecomputeHeroTrends},
		{PassRoleStatistics, a.store.RecomputeRoleStatistics},
	}
}

// Run executes all passes. A failing pass is logged and recorded in the
// result; it never stops the others and Run itself does not fail.
func (a *Aggregator) Run(ctx context.Context, trigger string) Run {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	now := a.clock.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
	}

	passes := a.passes()
	results := make([]PassResult, len(passes))

	// Plain Group: a failing pass must not cancel its siblings.
	var g errgroup.Group
	for i, p := range passes {
		i, p := i, p
		g.Go(func() error {
			results[i] = a.runPass(ctx, run.ID, p, now)
			return nil
		})
	}
	_ = g.Wait()

	run.Passes = results
	run.FinishedAt = a.clock.Now().UTC()
	lastRun.Set(float64(run.FinishedAt.Unix()))

	a.logger.Infow("Aggregation run finished",
		"runId", run.ID,
		"trigger", trigger,
		"failedPasses", run.Failed(),
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)

	for _, h := range a.hooks {
		h(ctx, run)
	}
	return run
}

func (a *Aggregator) runPass(ctx context.Context, runID string, p pass, now time.Time) (res PassResult) {
	res.Pass = p.name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Error = "panic"
			passFailures.WithLabelValues(p.name).Inc()
			a.logger.Errorw("Aggregation pass panicked", "runId", runID, "pass", p.name, "error", r)
		}
		res.Duration = time.Since(start)
		passDuration.WithLabelValues(p.name).Observe(res.Duration.Seconds())
	}()

	rows, err := p.run(ctx, now)
	if err != nil {
		res.Error = err.Error()
		passFailures.WithLabelValues(p.name).Inc()
		a.logger.Errorw("Aggregation pass failed", "runId", runID, "pass", p.name, "error", err)
		return res
	}

	res.Rows = rows
	a.logger.Infow("Aggregation pass completed", "runId", runID, "pass", p.name, "rows", rows)
	return res
}

// Fire adapts Run to the trigger callback.
func (a *Aggregator) Fire(ctx context.Context) {
	a.Run(ctx, "ingest")
}
