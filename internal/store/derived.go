package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/owmeta/stats-api/internal/models"
)

// Hero statistics orderings.
const (
	OrderByWinRate  = "win_rate"
	OrderByPickRate = "pick_rate"
)

// HeroStatistics returns rows for gameMode ("" for all modes) with at least
// minGames total games, ordered by orderBy descending.
func (s *Store) HeroStatistics(ctx context.Context, gameMode string, minGames int64, orderBy string) ([]models.HeroStatistics, error) {
	if orderBy != OrderByPickRate {
		orderBy = OrderByWinRate
	}

	// orderBy is one of two constants.
	rows, err := s.db.Query(ctx, `
		SELECT hero_key, game_mode, total_games_played, total_wins, total_losses, pick_count,
			pick_rate, win_rate, avg_eliminations, avg_deaths, avg_assists, avg_kda, last_calculated
		FROM hero_statistics
		WHERE ($1 = '' OR game_mode = $1) AND total_games_played >= $2
		ORDER BY `+orderBy+` DESC, hero_key, game_mode
	`, gameMode, minGames)
	if err != nil {
		return nil, fmt.Errorf("hero statistics: %w", err)
	}
	defer rows.Close()

	out := []models.HeroStatistics{}
	for rows.Next() {
		var h models.HeroStatistics
		if err := rows.Scan(
			&h.HeroKey, &h.GameMode, &h.TotalGamesPlayed, &h.TotalWins, &h.TotalLosses, &h.PickCount,
			&h.PickRate, &h.WinRate, &h.AvgEliminations, &h.AvgDeaths, &h.AvgAssists, &h.AvgKDA, &h.LastCalculated,
		); err != nil {
			return nil, fmt.Errorf("scan hero statistics: %w", err)
		}
		h.HeroName = models.HeroDisplayName(h.HeroKey)
		h.Role = models.HeroRole(h.HeroKey)
		out = append(out, h)
	}
	return out, rows.Err()
}

// HeroTrends returns trend rows dated on or after since, oldest first.
// An empty heroKey or gameMode matches all.
func (s *Store) HeroTrends(ctx context.Context, heroKey, gameMode string, since time.Time) ([]models.HeroTrend, error) {
	rows, err := s.db.Query(ctx, `
		SELECT hero_key, trend_date, game_mode, pick_rate, win_rate, games_played, avg_kda
		FROM hero_trends
		WHERE ($1 = '' OR hero_key = $1)
			AND ($2 = '' OR game_mode = $2)
			AND trend_date >= $3::date
		ORDER BY trend_date ASC, pick_rate DESC, hero_key
	`, heroKey, gameMode, dateOf(since))
	if err != nil {
		return nil, fmt.Errorf("hero trends: %w", err)
	}
	defer rows.Close()

	out := []models.HeroTrend{}
	for rows.Next() {
		var t models.HeroTrend
		if err := rows.Scan(&t.HeroKey, &t.TrendDate, &t.GameMode, &t.PickRate, &t.WinRate, &t.GamesPlayed, &t.AvgKDA); err != nil {
			return nil, fmt.Errorf("scan hero trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RankSnapshotDate resolves the snapshot to serve for date: the latest
// snapshot on or before it, else the latest overall. ErrNotFound when the
// table is empty.
func (s *Store) RankSnapshotDate(ctx context.Context, date time.Time) (time.Time, error) {
	var resolved *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT MAX(snapshot_date) FROM rank_distribution WHERE snapshot_date <= $1::date),
			(SELECT MAX(snapshot_date) FROM rank_distribution)
		)
	`, dateOf(date)).Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && resolved == nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve rank snapshot: %w", err)
	}
	return *resolved, nil
}

// RankDistribution returns the buckets of one snapshot date, lowest first.
func (s *Store) RankDistribution(ctx context.Context, date time.Time) ([]models.RankDistribution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sr_bracket, bracket_name, player_count, percentage, snapshot_date
		FROM rank_distribution
		WHERE snapshot_date = $1::date
		ORDER BY sr_bracket
	`, dateOf(date))
	if err != nil {
		return nil, fmt.Errorf("rank distribution: %w", err)
	}
	defer rows.Close()

	out := []models.RankDistribution{}
	for rows.Next() {
		var r models.RankDistribution
		if err := rows.Scan(&r.SRBracket, &r.BracketName, &r.PlayerCount, &r.Percentage, &r.SnapshotDate); err != nil {
			return nil, fmt.Errorf("scan rank distribution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoleStatistics returns role rows with at least minGames total games.
func (s *Store) RoleStatistics(ctx context.Context, gameMode string, minGames int64) ([]models.RoleStatistics, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role, game_mode, avg_win_rate, avg_pick_rate, avg_kda, total_players, total_games, last_calculated
		FROM role_statistics
		WHERE ($1 = '' OR game_mode = $1) AND total_games >= $2
		ORDER BY avg_win_rate DESC, role, game_mode
	`, gameMode, minGames)
	if err != nil {
		return nil, fmt.Errorf("role statistics: %w", err)
	}
	defer rows.Close()

	out := []models.RoleStatistics{}
	for rows.Next() {
		var r models.RoleStatistics
		if err := rows.Scan(
			&r.Role, &r.GameMode, &r.AvgWinRate, &r.AvgPickRate, &r.AvgKDA, &r.TotalPlayers, &r.TotalGames, &r.LastCalculated,
		); err != nil {
			return nil, fmt.Errorf("scan role statistics: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
