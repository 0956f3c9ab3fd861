package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/archive"
	"github.com/owmeta/stats-api/internal/clock"
	"github.com/owmeta/stats-api/internal/config"
	"github.com/owmeta/stats-api/internal/handlers"
	"github.com/owmeta/stats-api/internal/ingest"
	"github.com/owmeta/stats-api/internal/overfast"
	"github.com/owmeta/stats-api/internal/query"
	"github.com/owmeta/stats-api/internal/queue"
	"github.com/owmeta/stats-api/internal/ratelimit"
	"github.com/owmeta/stats-api/internal/scheduler"
	"github.com/owmeta/stats-api/internal/store"
	"github.com/owmeta/stats-api/internal/trigger"
	"github.com/owmeta/stats-api/internal/worker"
)

const connectTimeout = 15 * time.Second

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(newLogger),
	fx.Provide(func() clock.Clock { return clock.Real{} }),
	// storage
	fx.Provide(newPostgres),
	fx.Provide(newStore),
	fx.Provide(newRedis),
	fx.Provide(newClickHouse),
	fx.Provide(newArchive),
	// transport
	fx.Provide(newBroker),
	fx.Provide(newGate),
	fx.Provide(newOverFastClient),
	fx.Provide(newFetchService),
	// pipeline
	fx.Provide(newAggregator),
	fx.Provide(newTrigger),
	fx.Provide(newIngest),
	fx.Provide(newWorkerPool),
	fx.Provide(newScheduler),
	// reads
	fx.Provide(newQuery),
	fx.Provide(newHandler),
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newPostgres(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		pool.Close()
		return nil
	}})
	return pool, nil
}

func newStore(pool *pgxpool.Pool, logger *zap.Logger) *store.Store {
	return store.New(pool, logger)
}

func newRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return rdb.Close()
	}})
	return rdb, nil
}

// newClickHouse returns a nil conn when the archive is not configured.
func newClickHouse(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (driver.Conn, error) {
	if cfg.ClickHouseURL == "" {
		logger.Info("CLICKHOUSE_URL not set, snapshot archive disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := archive.Connect(ctx, cfg.ClickHouseURL)
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return conn.Close()
	}})
	return conn, nil
}

func newArchive(lc fx.Lifecycle, conn driver.Conn, cfg *config.Config, logger *zap.Logger) *archive.Writer {
	if conn == nil {
		return nil
	}
	w := archive.NewWriter(archive.Config{
		Conn:          conn,
		QueueSize:     cfg.ArchiveQueueSize,
		BatchSize:     cfg.ArchiveBatchSize,
		FlushInterval: cfg.ArchiveFlushInterval,
		Logger:        logger,
	})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
	return w
}

func newBroker(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*queue.Broker, error) {
	b, err := queue.Dial(cfg.RabbitMQURL, queue.BrokerConfig{
		MessageTTL:     cfg.MessageTTL,
		Prefetch:       cfg.Prefetch,
		PublishTimeout: cfg.PublishTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return b.Close()
	}})
	return b, nil
}

func newGate(cfg *config.Config, c clock.Clock) *ratelimit.Gate {
	return ratelimit.NewGate(cfg.RequestsPerSecond, c)
}

func newOverFastClient(cfg *config.Config, gate *ratelimit.Gate, logger *zap.Logger) *overfast.Client {
	return overfast.NewClient(overfast.ClientConfig{
		BaseURL:    cfg.OverFastBaseURL,
		Timeout:    cfg.OverFastTimeout,
		MaxRetries: cfg.FetchMaxRetries,
		BaseDelay:  cfg.FetchBaseDelay,
		Gate:       gate,
		Logger:     logger,
	})
}

func newFetchService(client *overfast.Client, broker *queue.Broker, cfg *config.Config, c clock.Clock, logger *zap.Logger) *overfast.Service {
	return overfast.NewService(client, broker, cfg.FetchBatchConcurrency, c, logger)
}

func newAggregator(st *store.Store, cfg *config.Config, c clock.Clock, logger *zap.Logger) *aggregator.Aggregator {
	return aggregator.New(aggregator.Config{
		Store:   st,
		Clock:   c,
		Timeout: cfg.AggregationTimeout,
		Logger:  logger,
	})
}

func newTrigger(lc fx.Lifecycle, agg *aggregator.Aggregator, cfg *config.Config, c clock.Clock, logger *zap.Logger) *trigger.Trigger {
	t := trigger.New(trigger.Config{
		Cooldown: cfg.RecalcCooldown,
		Fire:     agg.Fire,
		Clock:    c,
		Logger:   logger,
	})
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		t.Stop()
		return nil
	}})
	return t
}

func newIngest(st *store.Store, t *trigger.Trigger, arch *archive.Writer, cfg *config.Config, logger *zap.Logger) *ingest.Service {
	icfg := ingest.Config{
		Store:   st,
		Trigger: t,
		Timeout: cfg.IngestTimeout,
		Logger:  logger,
	}
	if arch != nil {
		icfg.Archive = arch
	}
	return ingest.NewService(icfg)
}

func newWorkerPool(lc fx.Lifecycle, broker *queue.Broker, svc *ingest.Service, cfg *config.Config, logger *zap.Logger) *worker.Pool {
	p := worker.NewPool(worker.PoolConfig{
		WorkerCount:    cfg.ConsumerCount,
		ConsumerPrefix: cfg.ConsumerPrefix,
		Consumer:       broker,
		Ingester:       svc,
		Logger:         logger,
	})
	lc.Append(fx.Hook{
		// Consumers outlive the start context.
		OnStart: func(context.Context) error {
			return p.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			p.Stop()
			return nil
		},
	})
	return p
}

func newScheduler(lc fx.Lifecycle, st *store.Store, fetch *overfast.Service, agg *aggregator.Aggregator, cfg *config.Config, c clock.Clock, logger *zap.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(scheduler.Config{
		RefreshSchedule:     cfg.RefreshSchedule,
		AggregationSchedule: cfg.AggregationSchedule,
		StaleAfter:          cfg.RefreshStaleAfter,
		BatchLimit:          cfg.RefreshBatchLimit,
		Players:             st,
		Refresher:           fetch,
		Aggregator:          agg,
		Clock:               c,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop(ctx)
			return nil
		},
	})
	return s, nil
}

func newQuery(st *store.Store, rdb *redis.Client, client *overfast.Client, arch *archive.Writer, cfg *config.Config, logger *zap.Logger) *query.Service {
	qcfg := query.Config{
		Reader:   st,
		Cache:    query.NewRedisCache(rdb),
		Upstream: client,
		TTL:      cfg.CacheTTL,
		MinGames: int64(cfg.MinGamesFloor),
		Logger:   logger,
	}
	if arch != nil {
		qcfg.History = arch
	}
	return query.NewService(qcfg)
}

func newHandler(
	cfg *config.Config,
	fetch *overfast.Service,
	q *query.Service,
	agg *aggregator.Aggregator,
	broker *queue.Broker,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	ch driver.Conn,
	logger *zap.Logger,
) *handlers.Handler {
	checks := map[string]handlers.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"rabbitmq": func(context.Context) error { return broker.Ping() },
	}
	if ch != nil {
		checks["clickhouse"] = ch.Ping
	}
	if cfg.AdminToken == "" && cfg.IsProduction() {
		logger.Warn("ADMIN_TOKEN is not set; admin routes are unauthenticated")
	}

	return handlers.New(handlers.Config{
		Fetcher:    fetch,
		Queries:    q,
		Aggregator: agg,
		Queue:      broker,
		Checks:     checks,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
}
