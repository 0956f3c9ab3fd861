package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
)

// MaxBodySize limits the size of request bodies to 1MB
const MaxBodySize = 1048576

// MaxBatchPlayers caps the players accepted by one batch fetch request.
const MaxBatchPlayers = 100

// Fetcher queues upstream fetches.
type Fetcher interface {
	FetchAndPublish(ctx context.Context, ref models.PlayerRef) error
	FetchAndPublishMany(ctx context.Context, refs []models.PlayerRef) ([]overfast.Outcome, error)
}

// Queries serves the read side.
type Queries interface {
	HeroStatistics(ctx context.Context, gameMode, sortBy string) ([]models.HeroStatistics, error)
	HeroTrends(ctx context.Context, heroKey, gameMode string, days int) ([]models.HeroTrend, error)
	RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error)
	RoleStatistics(ctx context.Context, gameMode string) ([]models.RoleStatistics, error)
	SearchPlayers(ctx context.Context, q string, limit int) ([]models.PlayerSearchResult, error)
	RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error)
	PlayerProfile(ctx context.Context, battletag, platform string) (*models.PlayerProfile, error)
	PlayerMetadata(ctx context.Context, battletag, platform string) (*models.PlayerMetadata, error)
	PlayerHistory(ctx context.Context, battletag, platform string, limit int) ([]models.SnapshotPoint, error)
}

// Recalculator runs the aggregation passes on demand.
type Recalculator interface {
	Run(ctx context.Context, trigger string) aggregator.Run
}

// QueueStats reports broker queue depths.
type QueueStats interface {
	Depths() (ready int, deadLettered int, err error)
}

// Check reports whether one backing service is reachable.
type Check func(ctx context.Context) error

type Config struct {
	Fetcher    Fetcher
	Queries    Queries
	Aggregator Recalculator
	Queue      QueueStats
	Checks     map[string]Check
	AdminToken string
	Logger     *zap.Logger
}

type Handler struct {
	fetcher    Fetcher
	queries    Queries
	aggregator Recalculator
	queue      QueueStats
	checks     map[string]Check
	adminToken string
	logger     *zap.SugaredLogger
	validator  *validator.Validate
}

func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		fetcher:    cfg.Fetcher,
		queries:    cfg.Queries,
		aggregator: cfg.Aggregator,
		queue:      cfg.Queue,
		checks:     cfg.Checks,
		adminToken: cfg.AdminToken,
		logger:     cfg.Logger.Sugar(),
		validator:  validator.New(),
	}
}

// Routes mounts every endpoint on a chi router.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/fetch", h.FetchPlayers)
			r.Get("/search", h.SearchPlayers)
			r.Get("/recent", h.RecentPlayers)
			r.Get("/{battletag}", h.GetPlayer)
			r.Get("/{battletag}/metadata", h.GetPlayerMetadata)
			r.Get("/{battletag}/history", h.GetPlayerHistory)
			r.Post("/{battletag}/fetch", h.FetchPlayer)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/heroes", h.GetHeroStats)
			r.Get("/heroes/{heroKey}/trends", h.GetHeroTrends)
			r.Get("/ranks", h.GetRankDistribution)
			r.Get("/roles", h.GetRoleStats)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.AdminAuth)
			r.Post("/recalculate", h.Recalculate)
		})
	})

	return r
}
