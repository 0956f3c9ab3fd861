package query

import (
	"context"
	"sync"
	"time"

	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
	"github.com/owmeta/stats-api/internal/store"
)

// MockReader implements Reader for testing
type MockReader struct {
	mu    sync.Mutex
	Calls map[string]int

	Player       *models.Player
	HeroStats    []models.HeroStat
	Search       []models.PlayerSearchResult
	Heroes       []models.HeroStatistics
	SnapshotDate time.Time
	Ranks        map[string][]models.RankDistribution

	GotMinGames int64
	GotOrderBy  string
	GotRankDate time.Time
	GotSince    time.Time

	// Gate blocks HeroStatistics until closed.
	Gate      chan struct{}
	GotCtxErr error
}

func (m *MockReader) called(fn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[fn]++
}

func (m *MockReader) callCount(fn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[fn]
}

func (m *MockReader) GetPlayer(ctx context.Context, battletag, platform string) (*models.Player, error) {
	m.called("GetPlayer")
	if m.Player == nil {
		return nil, store.ErrNotFound
	}
	p := *m.Player
	return &p, nil
}

func (m *MockReader) PlayerHeroStats(ctx context.Context, playerID string) ([]models.HeroStat, error) {
	m.called("PlayerHeroStats")
	return m.HeroStats, nil
}

func (m *MockReader) SearchPlayers(ctx context.Context, query string, limit int) ([]models.PlayerSearchResult, error) {
	m.called("SearchPlayers")
	return append([]models.PlayerSearchResult{}, m.Search...), nil
}

func (m *MockReader) RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error) {
	m.called("RecentPlayers")
	return []models.RecentPlayer{}, nil
}

func (m *MockReader) HeroStatistics(ctx context.Context, gameMode string, minGames int64, orderBy string) ([]models.HeroStatistics, error) {
	m.called("HeroStatistics")
	if m.Gate != nil {
		<-m.Gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GotMinGames, m.GotOrderBy = minGames, orderBy
	m.GotCtxErr = ctx.Err()
	return m.Heroes, nil
}

func (m *MockReader) HeroTrends(ctx context.Context, heroKey, gameMode string, since time.Time) ([]models.HeroTrend, error) {
	m.called("HeroTrends")
	m.GotSince = since
	return []models.HeroTrend{}, nil
}

func (m *MockReader) RankSnapshotDate(ctx context.Context, date time.Time) (time.Time, error) {
	m.called("RankSnapshotDate")
	if m.SnapshotDate.IsZero() {
		return time.Time{}, store.ErrNotFound
	}
	return m.SnapshotDate, nil
}

func (m *MockReader) RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error) {
	m.called("RankDistribution")
	m.GotRankDate = date
	return m.Ranks[date.Format(time.DateOnly)], nil
}

func (m *MockReader) RoleStatistics(ctx context.Context, gameMode string, minGames int64) ([]models.RoleStatistics, error) {
	m.called("RoleStatistics")
	m.GotMinGames = minGames
	return []models.RoleStatistics{}, nil
}

// MockCache is an in-memory Cache
type MockCache struct {
	mu      sync.Mutex
	Data    map[string][]byte
	Gen     int64
	GetErr  error
	GenErr  error
	SetKeys []string
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string][]byte)}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, false, m.GetErr
	}
	b, ok := m.Data[key]
	return b, ok, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
	m.SetKeys = append(m.SetKeys, key)
	return nil
}

func (m *MockCache) Generation(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Gen, m.GenErr
}

func (m *MockCache) Bump(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gen++
	return m.Gen, nil
}

// MockUpstream implements Upstream
type MockUpstream struct {
	Results []overfast.SearchResult
	Err     error
	Calls   int
}

func (m *MockUpstream) SearchPlayers(ctx context.Context, name string, limit int) ([]overfast.SearchResult, error) {
	m.Calls++
	return m.Results, m.Err
}
