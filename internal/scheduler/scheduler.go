// Package scheduler runs the periodic jobs: re-fetching stale players and
// recomputing derived statistics regardless of ingest activity.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/clock"
	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
)

var jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "owstats_scheduled_job_runs_total",
	Help: "Scheduled job runs by job and result",
}, []string{"job", "result"})

// StaleSource lists players whose snapshot is older than a cutoff, oldest first.
type StaleSource interface {
	StalePlayers(ctx context.Context, before time.Time, limit int) ([]models.PlayerRef, error)
}

// Refresher fetches a batch of players and queues the documents.
type Refresher interface {
	FetchAndPublishMany(ctx context.Context, refs []models.PlayerRef) ([]overfast.Outcome, error)
}

// Recalculator runs all aggregation passes.
type Recalculator interface {
	Run(ctx context.Context, trigger string) aggregator.Run
}

// Config configures the scheduler. An empty schedule disables its job.
type Config struct {
	RefreshSchedule     string
	AggregationSchedule string
	StaleAfter          time.Duration
	BatchLimit          int
	JobTimeout          time.Duration

	Players    StaleSource
	Refresher  Refresher
	Aggregator Recalculator
	Clock      clock.Clock
	Logger     *zap.Logger
}

type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

// New registers the jobs. Overlapping runs of the same job are skipped.
func New(cfg Config) (*Scheduler, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 4 * time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cl := cronLogger{cfg.Logger.Sugar()}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		cfg:    cfg,
		logger: cfg.Logger.Sugar(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.RefreshSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.RefreshSchedule, s.refreshJob); err != nil {
			return nil, fmt.Errorf("schedule refresh job %q: %w", cfg.RefreshSchedule, err)
		}
	}
	if cfg.AggregationSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.AggregationSchedule, s.aggregationJob); err != nil {
			return nil, fmt.Errorf("schedule aggregation job %q: %w", cfg.AggregationSchedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Infow("Starting scheduler",
		"refresh", s.cfg.RefreshSchedule, "aggregation", s.cfg.AggregationSchedule)
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping scheduler...")
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// RefreshStale re-fetches up to BatchLimit players not updated within
// StaleAfter and returns the per-player outcomes.
func (s *Scheduler) RefreshStale(ctx context.Context) ([]overfast.Outcome, error) {
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.StaleAfter)

	refs, err := s.cfg.Players.StalePlayers(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list stale players: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	return s.cfg.Refresher.FetchAndPublishMany(ctx, refs)
}

func (s *Scheduler) refreshJob() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	outcomes, err := s.RefreshStale(ctx)
	if err != nil {
		jobRuns.WithLabelValues("refresh", "error").Inc()
		s.logger.Errorw("Stale player refresh failed", "error", err)
		return
	}
	jobRuns.WithLabelValues("refresh", "ok").Inc()

	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	s.logger.Infow("Stale player refresh completed",
		"players", len(outcomes),
		"queued", counts[overfast.StatusQueued],
		"not_found", counts[overfast.StatusNotFound],
		"failed", len(outcomes)-counts[overfast.StatusQueued]-counts[overfast.StatusNotFound])
}

func (s *Scheduler) aggregationJob() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	run := s.cfg.Aggregator.Run(ctx, "schedule")
	if run.Failed() > 0 {
		jobRuns.WithLabelValues("aggregation", "error").Inc()
		return
	}
	jobRuns.WithLabelValues("aggregation", "ok").Inc()
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
