// Package ingest turns fetched player documents into persisted rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

var (
	ingestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_ingest_messages_total",
		Help: "Fetch messages handled by the ingest service",
	}, []string{"result"})

	ingestSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_ingest_skipped_heroes_total",
		Help: "Career-stats entries that produced no row",
	}, []string{"reason"})

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "owstats_ingest_duration_seconds",
		Help:    "Time to normalise and persist one player document",
		Buckets: prometheus.DefBuckets,
	})
)

// Error kinds returned by Ingest.
var (
	// ErrMalformed documents will never succeed and should be dropped.
	ErrMalformed = errors.New("malformed player document")
	// ErrPersistence covers store failures that may succeed on redelivery.
	ErrPersistence = errors.New("persistence failure")
)

// SnapshotWriter persists one player and its hero rows in a single transaction
// using last-writer-wins on LastUpdated/LastPlayed. It reports whether the
// player row was inserted or overwritten.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, player models.Player, stats []models.HeroStat) (bool, error)
}

// Notifier is told that player data changed. It reports whether a
// recalculation was started.
type Notifier interface {
	Notify() bool
}

// Archiver records accepted snapshots for history. It must not block.
type Archiver interface {
	Record(player models.Player, heroRows int, rawJSON string)
}

// Config for the ingest service.
type Config struct {
	Store   SnapshotWriter
	Trigger Notifier
	Archive Archiver
	Timeout time.Duration
	Logger  *zap.Logger
}

// Service normalises documents and writes them.
type Service struct {
	store   SnapshotWriter
	trigger Notifier
	archive Archiver
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewService(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		store:   cfg.Store,
		trigger: cfg.Trigger,
		archive: cfg.Archive,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.Sugar(),
	}
}

// Ingest parses msg and persists the player and hero rows atomically. Errors
// wrap ErrMalformed or ErrPersistence.
func (s *Service) Ingest(ctx context.Context, msg models.FetchMessage) error {
	start := time.Now()
	defer func() { ingestDuration.Observe(time.Since(start).Seconds()) }()

	doc, err := Parse(msg)
	if err != nil {
		ingestMessages.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %s: %w", ErrMalformed, msg.Battletag, err)
	}

	for _, h := range doc.Heroes {
		if h.OK() {
			continue
		}
		ingestSkipped.WithLabelValues(h.Skip.String()).Inc()
		if h.Skip == SkipMalformed {
			s.logger.Warnw("Skipping malformed hero entry",
				"player", doc.Player.PlayerID,
				"hero", h.HeroKey,
				"mode", h.GameMode,
				"error", h.Err,
			)
		}
	}

	stats := doc.Stats()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	written, err := s.store.WriteSnapshot(ctx, doc.Player, stats)
	if err != nil {
		ingestMessages.WithLabelValues("persistence_error").Inc()
		return fmt.Errorf("%w: %s: %w", ErrPersistence, doc.Player.PlayerID, err)
	}

	if !written {
		ingestMessages.WithLabelValues("stale").Inc()
		s.logger.Debugw("Player row not newer than stored, hero rows merged only",
			"player", doc.Player.PlayerID,
			"fetchTimestamp", doc.Player.LastUpdated,
		)
		return nil
	}

	ingestMessages.WithLabelValues("stored").Inc()
	s.logger.Infow("Stored player snapshot",
		"player", doc.Player.PlayerID,
		"heroRows", len(stats),
		"skillRating", doc.Player.SkillRating,
		"duration", time.Since(start),
	)

	if s.trigger != nil && s.trigger.Notify() {
		s.logger.Debugw("Recalculation started", "player", doc.Player.PlayerID)
	}
	if s.archive != nil {
		s.archive.Record(doc.Player, len(stats), msg.RawJSON)
	}
	return nil
}
