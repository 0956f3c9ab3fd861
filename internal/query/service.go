// Package query serves read-only player and statistics queries through a
// cache.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
	"github.com/owmeta/stats-api/internal/store"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "owstats_query_cache_total",
	Help: "Query cache lookups by result",
}, []string{"fn", "result"})

// Sort orders for hero statistics.
const (
	SortWinRate  = "winrate"
	SortPickRate = "pickrate"
)

// Limits.
const (
	MaxSearchLength = 30
	DefaultLimit    = 10
	MaxLimit        = 50
	RecentLimit     = 20
	MaxTrendDays    = 90
)

// ErrInvalidQuery marks a search string that is empty or too long.
var ErrInvalidQuery = errors.New("invalid search query")

// Reader is the store surface used by the service.
type Reader interface {
	GetPlayer(ctx context.Context, battletag, platform string) (*models.Player, error)
	PlayerHeroStats(ctx context.Context, playerID string) ([]models.HeroStat, error)
	SearchPlayers(ctx context.Context, query string, limit int) ([]models.PlayerSearchResult, error)
	RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error)
	HeroStatistics(ctx context.Context, gameMode string, minGames int64, orderBy string) ([]models.HeroStatistics, error)
	HeroTrends(ctx context.Context, heroKey, gameMode string, since time.Time) ([]models.HeroTrend, error)
	RankSnapshotDate(ctx context.Context, date time.Time) (time.Time, error)
	RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error)
	RoleStatistics(ctx context.Context, gameMode string, minGames int64) ([]models.RoleStatistics, error)
}

// Upstream searches players the store has not seen yet.
type Upstream interface {
	SearchPlayers(ctx context.Context, name string, limit int) ([]overfast.SearchResult, error)
}

// History returns archived snapshots of a player.
type History interface {
	PlayerHistory(ctx context.Context, playerID string, limit int) ([]models.SnapshotPoint, error)
}

// Config for the query service.
type Config struct {
	Reader   Reader
	Cache    Cache
	Upstream Upstream
	History  History
	TTL      time.Duration
	MinGames int64
	// LoadTimeout bounds a shared cache-miss load.
	LoadTimeout time.Duration
	Now         func() time.Time
	Logger      *zap.Logger
}

// Service answers read queries. Cache failures are logged and bypassed.
type Service struct {
	reader   Reader
	cache    Cache
	upstream Upstream
	history  History
	ttl      time.Duration
	minGames int64
	now      func() time.Time

	loadTimeout time.Duration
	group       singleflight.Group
	logger      *zap.SugaredLogger
}

func NewService(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MinGames <= 0 {
		cfg.MinGames = 10
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		reader:   cfg.Reader,
		cache:    cfg.Cache,
		upstream: cfg.Upstream,
		history:  cfg.History,
		ttl:      cfg.TTL,
		minGames: cfg.MinGames,
		now:      cfg.Now,
		logger:   cfg.Logger.Sugar(),

		loadTimeout: cfg.LoadTimeout,
	}
}

// cached is cache-aside with a singleflight guard per key. Errors are never
// cached.
func cached[T any](ctx context.Context, s *Service, fn string, params []string, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}

	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warnw("Cache generation unavailable", "fn", fn, "error", err)
		cacheLookups.WithLabelValues(fn, "error").Inc()
		return load(ctx)
	}
	key := cacheKey(gen, fn, params...)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warnw("Cache read failed", "key", key, "error", err)
		cacheLookups.WithLabelValues(fn, "error").Inc()
	} else if ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			cacheLookups.WithLabelValues(fn, "hit").Inc()
			return out, nil
		}
		s.logger.Warnw("Discarding undecodable cache entry", "key", key)
	} else {
		cacheLookups.WithLabelValues(fn, "miss").Inc()
	}

	// The shared load outlives any one caller; each caller stops waiting
	// when its own context ends.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		out, err := load(lctx)
		if err != nil {
			return out, err
		}
		if raw, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(lctx, key, raw, s.ttl); err != nil {
				s.logger.Warnw("Cache write failed", "key", key, "error", err)
			}
		}
		return out, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// InvalidateOnRun bumps the cache generation after an aggregation run.
func (s *Service) InvalidateOnRun(ctx context.Context, run aggregator.Run) {
	if s.cache == nil {
		return
	}
	gen, err := s.cache.Bump(ctx)
	if err != nil {
		s.logger.Warnw("Cache invalidation failed", "runId", run.ID, "error", err)
		return
	}
	s.logger.Infow("Query cache invalidated", "runId", run.ID, "generation", gen)
}

// HeroStatistics returns hero rows for a mode. Win-rate ordering applies the
// minimum games floor; pick-rate ordering has none.
func (s *Service) HeroStatistics(ctx context.Context, gameMode, sortBy string) ([]models.HeroStatistics, error) {
	gameMode = normalizeMode(gameMode)
	orderBy, floor := store.OrderByWinRate, s.minGames
	if strings.EqualFold(sortBy, SortPickRate) {
		orderBy, floor = store.OrderByPickRate, 0
	}
	return cached(ctx, s, "HeroStatistics", []string{gameMode, orderBy}, func(ctx context.Context) ([]models.HeroStatistics, error) {
		return s.reader.HeroStatistics(ctx, gameMode, floor, orderBy)
	})
}

// HeroPickRates is HeroStatistics ordered by pick rate.
func (s *Service) HeroPickRates(ctx context.Context, gameMode string) ([]models.HeroStatistics, error) {
	return s.HeroStatistics(ctx, gameMode, SortPickRate)
}

// HeroTrends returns trend rows of the trailing days for a hero ("" for all).
func (s *Service) HeroTrends(ctx context.Context, heroKey, gameMode string, days int) ([]models.HeroTrend, error) {
	if days <= 0 {
		days = 7
	}
	if days > MaxTrendDays {
		days = MaxTrendDays
	}
	heroKey = strings.ToLower(strings.TrimSpace(heroKey))
	gameMode = normalizeMode(gameMode)
	since := s.now().UTC().AddDate(0, 0, -(days - 1))

	return cached(ctx, s, "HeroTrends", []string{heroKey, gameMode, strconv.Itoa(days), since.Format(time.DateOnly)}, func(ctx context.Context) ([]models.HeroTrend, error) {
		return s.reader.HeroTrends(ctx, heroKey, gameMode, since)
	})
}

// RankDistribution returns the snapshot for date, falling back to the latest
// snapshot on or before it, then to the latest overall. A zero date means
// today. No data yields an empty slice.
func (s *Service) RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error) {
	if date.IsZero() {
		date = s.now()
	}
	day := date.UTC().Format(time.DateOnly)

	return cached(ctx, s, "RankDistribution", []string{day}, func(ctx context.Context) ([]models.RankDistribution, error) {
		resolved, err := s.reader.RankSnapshotDate(ctx, date)
		if errors.Is(err, store.ErrNotFound) {
			return []models.RankDistribution{}, nil
		}
		if err != nil {
			return nil, err
		}
		return s.reader.RankDistribution(ctx, resolved)
	})
}

// RoleStatistics returns role rows with the minimum games floor.
func (s *Service) RoleStatistics(ctx context.Context, gameMode string) ([]models.RoleStatistics, error) {
	gameMode = normalizeMode(gameMode)
	return cached(ctx, s, "RoleStatistics", []string{gameMode}, func(ctx context.Context) ([]models.RoleStatistics, error) {
		return s.reader.RoleStatistics(ctx, gameMode, s.minGames)
	})
}

// SearchPlayers matches known players first and tops up from upstream search
// when fewer than limit were found. Upstream failures are ignored.
func (s *Service) SearchPlayers(ctx context.Context, q string, limit int) ([]models.PlayerSearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" || len([]rune(q)) > MaxSearchLength {
		return nil, ErrInvalidQuery
	}
	limit = clampLimit(limit, DefaultLimit)

	return cached(ctx, s, "SearchPlayers", []string{strings.ToLower(q), strconv.Itoa(limit)}, func(ctx context.Context) ([]models.PlayerSearchResult, error) {
		local, err := s.reader.SearchPlayers(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		if len(local) >= limit || s.upstream == nil {
			return local, nil
		}

		remote, err := s.upstream.SearchPlayers(ctx, q, limit)
		if err != nil {
			s.logger.Warnw("Upstream search failed", "query", q, "error", err)
			return local, nil
		}
		return mergeSearch(local, remote, limit), nil
	})
}

func mergeSearch(local []models.PlayerSearchResult, remote []overfast.SearchResult, limit int) []models.PlayerSearchResult {
	seen := make(map[string]bool, len(local))
	for _, r := range local {
		seen[strings.ToLower(r.Battletag)] = true
	}
	out := local
	for _, r := range remote {
		if len(out) >= limit {
			break
		}
		tag := models.CanonicalBattletag(r.PlayerID)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, models.PlayerSearchResult{
			Battletag: tag,
			Username:  r.Name,
			AvatarURL: r.Avatar,
			Platform:  models.PlatformPC,
		})
	}
	return out
}

// RecentPlayers returns the most recently updated players.
func (s *Service) RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error) {
	limit = clampLimit(limit, RecentLimit)
	return cached(ctx, s, "RecentPlayers", []string{strconv.Itoa(limit)}, func(ctx context.Context) ([]models.RecentPlayer, error) {
		return s.reader.RecentPlayers(ctx, limit)
	})
}

// PlayerProfile returns the player with hero roll-ups, or nil when unknown.
func (s *Service) PlayerProfile(ctx context.Context, battletag, platform string) (*models.PlayerProfile, error) {
	battletag = models.CanonicalBattletag(battletag)
	platform = models.NormalizePlatform(platform)

	p, err := cached(ctx, s, "PlayerProfile", []string{strings.ToLower(battletag), platform}, func(ctx context.Context) (*models.PlayerProfile, error) {
		var (
			player *models.Player
			stats  []models.HeroStat
		)
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			player, err = s.reader.GetPlayer(ctx, battletag, platform)
			return err
		})
		g.Go(func() error {
			var err error
			stats, err = s.reader.PlayerHeroStats(ctx, models.PlayerID(battletag, platform))
			if err != nil {
				return fmt.Errorf("hero stats: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return BuildProfile(*player, stats), nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// PlayerMetadata returns the player header, or nil when unknown.
func (s *Service) PlayerMetadata(ctx context.Context, battletag, platform string) (*models.PlayerMetadata, error) {
	p, err := s.reader.GetPlayer(ctx, battletag, platform)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.PlayerMetadata{
		Battletag:   p.Battletag,
		Username:    p.Username,
		AvatarURL:   p.AvatarURL,
		Platform:    p.Platform,
		SkillRating: p.SkillRating,
		CurrentRank: models.RankName(p.SkillRating),
		LastUpdated: p.LastUpdated,
	}, nil
}

// PlayerHistory returns archived snapshots, newest first. Without an archive
// the result is empty.
func (s *Service) PlayerHistory(ctx context.Context, battletag, platform string, limit int) ([]models.SnapshotPoint, error) {
	if s.history == nil {
		return []models.SnapshotPoint{}, nil
	}
	limit = clampLimit(limit, MaxLimit)
	id := models.PlayerID(battletag, platform)
	return cached(ctx, s, "PlayerHistory", []string{id, strconv.Itoa(limit)}, func(ctx context.Context) ([]models.SnapshotPoint, error) {
		return s.history.PlayerHistory(ctx, id, limit)
	})
}

// normalizeMode lowercases a game mode; unknown modes mean all modes.
func normalizeMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	for _, m := range models.GameModes {
		if m == mode {
			return mode
		}
	}
	return ""
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
