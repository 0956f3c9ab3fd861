// Command owstats runs the stats pipeline: the HTTP API, the queue consumers
// that ingest fetched players, the recalculation trigger and the scheduled jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/config"
	"github.com/owmeta/stats-api/internal/handlers"
	"github.com/owmeta/stats-api/internal/query"
	"github.com/owmeta/stats-api/internal/scheduler"
	"github.com/owmeta/stats-api/internal/worker"
)

func main() {
	fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		Module,
		fx.Invoke(wireInvalidation),
		fx.Invoke(func(*worker.Pool, *scheduler.Scheduler) {}),
		fx.Invoke(runServer),
	).Run()
}

// wireInvalidation rolls the query cache over after every aggregation run.
func wireInvalidation(agg *aggregator.Aggregator, q *query.Service) {
	agg.OnComplete(q.InvalidateOnRun)
}

func runServer(lc fx.Lifecycle, h *handlers.Handler, cfg *config.Config, logger *zap.Logger) {
	log := logger.Sugar()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Routes(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow("Server starting", "addr", srv.Addr, "env", cfg.Env)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalw("Server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
