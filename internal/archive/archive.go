// Package archive keeps a ClickHouse history of accepted player snapshots.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

var (
	snapshotsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "owstats_archive_snapshots_total",
		Help: "Snapshots written to the archive",
	})

	snapshotsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_archive_dropped_total",
		Help: "Snapshots not archived",
	}, []string{"reason"})

	archiveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "owstats_archive_queue_depth",
		Help: "Snapshots waiting to be archived",
	})

	archiveBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "owstats_archive_batch_duration_seconds",
		Help:    "Duration of archive batch inserts",
		Buckets: prometheus.DefBuckets,
	})
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS owstats.player_snapshots (
		player_id    String,
		battletag    String,
		platform     LowCardinality(String),
		fetched_at   DateTime64(3, 'UTC'),
		skill_rating Nullable(Int32),
		hero_rows    UInt32,
		raw_json     String CODEC(ZSTD(3))
	)
	ENGINE = ReplacingMergeTree
	ORDER BY (player_id, fetched_at)
`

const insertSQL = `
	INSERT INTO owstats.player_snapshots (
		player_id, battletag, platform, fetched_at, skill_rating, hero_rows, raw_json
	)
`

type snapshot struct {
	player   models.Player
	heroRows int
	rawJSON  string
}

// Config configures the archive writer.
type Config struct {
	Conn          driver.Conn
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Writer buffers snapshots and inserts them in batches.
type Writer struct {
	config Config
	queue  chan snapshot
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *zap.SugaredLogger
}

// Connect opens a ClickHouse connection from a DSN such as
// clickhouse://localhost:9000/owstats.
func Connect(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// EnsureSchema creates the database and table if missing.
func EnsureSchema(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, `CREATE DATABASE IF NOT EXISTS owstats`); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create player_snapshots: %w", err)
	}
	return nil
}

func NewWriter(cfg Config) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		config: cfg,
		queue:  make(chan snapshot, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: cfg.Logger.Sugar(),
	}
}

// Start launches the flush loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Infow("Archive writer started",
		"queueSize", w.config.QueueSize,
		"batchSize", w.config.BatchSize,
		"flushInterval", w.config.FlushInterval,
	)
}

// Stop flushes what is buffered and waits for the loop to exit.
func (w *Writer) Stop() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
		w.logger.Info("Archive writer stopped")
	})
}

// Record queues a snapshot. It never blocks: a full queue drops the snapshot.
func (w *Writer) Record(player models.Player, heroRows int, rawJSON string) {
	if w.ctx.Err() != nil {
		snapshotsDropped.WithLabelValues("stopped").Inc()
		return
	}
	select {
	case w.queue <- snapshot{player: player, heroRows: heroRows, rawJSON: rawJSON}:
		archiveQueueDepth.Set(float64(len(w.queue)))
	default:
		snapshotsDropped.WithLabelValues("queue_full").Inc()
		w.logger.Warnw("Archive queue full, dropping snapshot", "player", player.PlayerID)
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	batch := make([]snapshot, 0, w.config.BatchSize)
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Flushes outlive the writer context so Stop can drain.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		start := time.Now()
		if err := w.insert(ctx, batch); err != nil {
			w.logger.Errorw("Archive batch failed", "batchSize", len(batch), "error", err)
			snapshotsDropped.WithLabelValues("insert_failed").Add(float64(len(batch)))
		} else {
			snapshotsArchived.Add(float64(len(batch)))
		}
		archiveBatchDuration.Observe(time.Since(start).Seconds())
		archiveQueueDepth.Set(float64(len(w.queue)))
		batch = batch[:0]
	}

	for {
		select {
		case s := <-w.queue:
			batch = append(batch, s)
			if len(batch) >= w.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.ctx.Done():
			for {
				select {
				case s := <-w.queue:
					batch = append(batch, s)
					if len(batch) >= w.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) insert(ctx context.Context, batch []snapshot) error {
	chBatch, err := w.config.Conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return err
	}

	for _, s := range batch {
		var sr *int32
		if s.player.SkillRating != nil {
			v := int32(*s.player.SkillRating)
			sr = &v
		}
		if err := chBatch.Append(
			s.player.PlayerID,
			s.player.Battletag,
			s.player.Platform,
			s.player.LastUpdated,
			sr,
			uint32(s.heroRows),
			s.rawJSON,
		); err != nil {
			w.logger.Warnw("Failed to append snapshot to batch", "player", s.player.PlayerID, "error", err)
			continue
		}
	}

	return chBatch.Send()
}

// PlayerHistory returns up to limit archived snapshots of a player, newest
// first.
func (w *Writer) PlayerHistory(ctx context.Context, playerID string, limit int) ([]models.SnapshotPoint, error) {
	rows, err := w.config.Conn.Query(ctx, `
		SELECT fetched_at, skill_rating, hero_rows
		FROM owstats.player_snapshots FINAL
		WHERE player_id = ?
		ORDER BY fetched_at DESC
		LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []models.SnapshotPoint{}
	for rows.Next() {
		var (
			p  models.SnapshotPoint
			sr *int32
		)
		if err := rows.Scan(&p.FetchedAt, &sr, &p.HeroRows); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if sr != nil {
			v := int(*sr)
			p.SkillRating = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
