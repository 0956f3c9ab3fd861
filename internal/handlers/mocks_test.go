package handlers

import (
	"context"
	"time"

	"github.com/owmeta/stats-api/internal/aggregator"
	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
)

// MockFetcher
type MockFetcher struct {
	FetchFunc     func(ctx context.Context, ref models.PlayerRef) error
	FetchManyFunc func(ctx context.Context, refs []models.PlayerRef) ([]overfast.Outcome, error)
}

func (m *MockFetcher) FetchAndPublish(ctx context.Context, ref models.PlayerRef) error {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return nil
}

func (m *MockFetcher) FetchAndPublishMany(ctx context.Context, refs []models.PlayerRef) ([]overfast.Outcome, error) {
	if m.FetchManyFunc != nil {
		return m.FetchManyFunc(ctx, refs)
	}
	return nil, nil
}

// MockQueries
type MockQueries struct {
	HeroStatisticsFunc   func(ctx context.Context, gameMode, sortBy string) ([]models.HeroStatistics, error)
	HeroTrendsFunc       func(ctx context.Context, heroKey, gameMode string, days int) ([]models.HeroTrend, error)
	RankDistributionFunc func(ctx context.Context, date time.Time) ([]models.RankDistribution, error)
	SearchPlayersFunc    func(ctx context.Context, q string, limit int) ([]models.PlayerSearchResult, error)
	PlayerProfileFunc    func(ctx context.Context, battletag, platform string) (*models.PlayerProfile, error)
	PlayerMetadataFunc   func(ctx context.Context, battletag, platform string) (*models.PlayerMetadata, error)
}

func (m *MockQueries) HeroStatistics(ctx context.Context, gameMode, sortBy string) ([]models.HeroStatistics, error) {
	if m.HeroStatisticsFunc != nil {
		return m.HeroStatisticsFunc(ctx, gameMode, sortBy)
	}
	return []models.HeroStatistics{}, nil
}

func (m *MockQueries) HeroTrends(ctx context.Context, heroKey, gameMode string, days int) ([]models.HeroTrend, error) {
	if m.HeroTrendsFunc != nil {
		return m.HeroTrendsFunc(ctx, heroKey, gameMode, days)
	}
	return []models.HeroTrend{}, nil
}

func (m *MockQueries) RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error) {
	if m.RankDistributionFunc != nil {
		return m.RankDistributionFunc(ctx, date)
	}
	return []models.RankDistribution{}, nil
}

func (m *MockQueries) RoleStatistics(ctx context.Context, gameMode string) ([]models.RoleStatistics, error) {
	return []models.RoleStatistics{}, nil
}

func (m *MockQueries) SearchPlayers(ctx context.Context, q string, limit int) ([]models.PlayerSearchResult, error) {
	if m.SearchPlayersFunc != nil {
		return m.SearchPlayersFunc(ctx, q, limit)
	}
	return []models.PlayerSearchResult{}, nil
}

func (m *MockQueries) RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error) {
	return []models.RecentPlayer{}, nil
}

func (m *MockQueries) PlayerProfile(ctx context.Context, battletag, platform string) (*models.PlayerProfile, error) {
	if m.PlayerProfileFunc != nil {
		return m.PlayerProfileFunc(ctx, battletag, platform)
	}
	return nil, nil
}

func (m *MockQueries) PlayerMetadata(ctx context.Context, battletag, platform string) (*models.PlayerMetadata, error) {
	if m.PlayerMetadataFunc != nil {
		return m.PlayerMetadataFunc(ctx, battletag, platform)
	}
	return nil, nil
}

func (m *MockQueries) PlayerHistory(ctx context.Context, battletag, platform string, limit int) ([]models.SnapshotPoint, error) {
	return []models.SnapshotPoint{}, nil
}

// MockAggregator
type MockAggregator struct {
	Result   aggregator.Run
	Triggers []string
}

func (m *MockAggregator) Run(ctx context.Context, trigger string) aggregator.Run {
	m.Triggers = append(m.Triggers, trigger)
	return m.Result
}

// MockQueue
type MockQueue struct {
	Ready, Dead int
	Err         error
}

func (m *MockQueue) Depths() (int, int, error) { return m.Ready, m.Dead, m.Err }
