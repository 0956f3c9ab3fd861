package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/owmeta/stats-api/internal/models"
)

// kdaExpr is the per-row KDA. Rows with no eliminations, assists or deaths
// yield NULL so AVG skips them.
const kdaExpr = `
	CASE
		WHEN hs.eliminations + hs.assists + hs.deaths = 0 THEN NULL
		WHEN hs.deaths > 0 THEN (hs.eliminations + hs.assists)::float8 / hs.deaths
		ELSE (hs.eliminations + hs.assists)::float8
	END`

// per10 normalises a counter column to a per-10-minute rate.
func per10(col string) string {
	return fmt.Sprintf("CASE WHEN hs.time_played > 0 THEN hs.%s::float8 / (hs.time_played / 10.0) END", col)
}

const winRateExpr = `
	CASE
		WHEN SUM(hs.wins + hs.losses) > 0
		THEN SUM(hs.wins)::float8 / SUM(hs.wins + hs.losses) * 100
		ELSE 0
	END`

var recomputeHeroStatisticsSQL = `
	INSERT INTO hero_statistics (
		hero_key, game_mode, total_games_played, total_wins, total_losses,
		pick_count, pick_rate, win_rate,
		avg_eliminations, avg_deaths, avg_assists, avg_kda, last_calculated
	)
	SELECT
		hs.hero_key,
		hs.game_mode,
		SUM(hs.wins + hs.losses + hs.draws)::bigint,
		SUM(hs.wins)::bigint,
		SUM(hs.losses)::bigint,
		COUNT(DISTINCT hs.player_id),
		COALESCE(COUNT(DISTINCT hs.player_id)::float8 * 100 / NULLIF((SELECT COUNT(*) FROM players), 0), 0),
		` + winRateExpr + `,
		COALESCE(AVG(` + per10("eliminations") + `), 0),
		COALESCE(AVG(` + per10("deaths") + `), 0),
		COALESCE(AVG(` + per10("assists") + `), 0),
		COALESCE(AVG(` + kdaExpr + `), 0),
		$1
	FROM hero_stats hs
	GROUP BY hs.hero_key, hs.game_mode
	ON CONFLICT (hero_key, game_mode) DO UPDATE SET
		total_games_played = EXCLUDED.total_games_played,
		total_wins = EXCLUDED.total_wins,
		total_losses = EXCLUDED.total_losses,
		pick_count = EXCLUDED.pick_count,
		pick_rate = EXCLUDED.pick_rate,
		win_rate = EXCLUDED.win_rate,
		avg_eliminations = EXCLUDED.avg_eliminations,
		avg_deaths = EXCLUDED.avg_deaths,
		avg_assists = EXCLUDED.avg_assists,
		avg_kda = EXCLUDED.avg_kda,
		last_calculated = EXCLUDED.last_calculated
`

// bracketExpr clamps floor(sr/500)*500 into 1000..4500.
const bracketExpr = `LEAST(GREATEST((skill_rating / 500) * 500, 1000), 4500)`

var recomputeRankDistributionSQL = `
	INSERT INTO rank_distribution (sr_bracket, snapshot_date, bracket_name, player_count, percentage)
	SELECT
		b.sr_bracket,
		$1::date,
		(ARRAY['Bronze','Silver','Gold','Platinum','Diamond','Master','Grandmaster','Champion'])[(b.sr_bracket - 1000) / 500 + 1],
		COUNT(*),
		COUNT(*)::float8 * 100 / (SUM(COUNT(*)) OVER ())::float8
	FROM (
		SELECT ` + bracketExpr + ` AS sr_bracket
		FROM players
		WHERE skill_rating IS NOT NULL
	) b
	GROUP BY b.sr_bracket
	ON CONFLICT (sr_bracket, snapshot_date) DO UPDATE SET
		bracket_name = EXCLUDED.bracket_name,
		player_count = EXCLUDED.player_count,
		percentage = EXCLUDED.percentage
`

var recomputeHeroTrendsSQL = `
	INSERT INTO hero_trends (hero_key, trend_date, game_mode, pick_rate, win_rate, games_played, avg_kda)
	SELECT
		hs.hero_key,
		$1::date,
		hs.game_mode,
		COALESCE(COUNT(DISTINCT hs.player_id)::float8 * 100 / NULLIF((
			SELECT COUNT(DISTINCT player_id) FROM hero_stats WHERE last_played >= $2
		), 0), 0),
		` + winRateExpr + `,
		SUM(hs.wins + hs.losses + hs.draws)::bigint,
		COALESCE(AVG(` + kdaExpr + `), 0)
	FROM hero_stats hs
	WHERE hs.last_played >= $2
	GROUP BY hs.hero_key, hs.game_mode
	ON CONFLICT (hero_key, trend_date, game_mode) DO UPDATE SET
		pick_rate = EXCLUDED.pick_rate,
		win_rate = EXCLUDED.win_rate,
		games_played = EXCLUDED.games_played,
		avg_kda = EXCLUDED.avg_kda
`

var recomputeRoleStatisticsSQL = `
	INSERT INTO role_statistics (
		role, game_mode, avg_win_rate, avg_pick_rate, avg_kda, total_players, total_games, last_calculated
	)
	SELECT
		m.role,
		hs.game_mode,
		COALESCE(AVG(CASE WHEN hs.wins + hs.losses > 0
			THEN hs.wins::float8 * 100 / (hs.wins + hs.losses) END), 0),
		COALESCE(COUNT(DISTINCT hs.player_id)::float8 * 100 / NULLIF((SELECT COUNT(*) FROM players), 0), 0),
		COALESCE(AVG(` + kdaExpr + `), 0),
		COUNT(DISTINCT hs.player_id),
		SUM(hs.wins + hs.losses + hs.draws)::bigint,
		$3
	FROM hero_stats hs
	JOIN unnest($1::text[], $2::text[]) AS m(hero_key, role) ON m.hero_key = hs.hero_key
	GROUP BY m.role, hs.game_mode
	ON CONFLICT (role, game_mode) DO UPDATE SET
		avg_win_rate = EXCLUDED.avg_win_rate,
		avg_pick_rate = EXCLUDED.avg_pick_rate,
		avg_kda = EXCLUDED.avg_kda,
		total_players = EXCLUDED.total_players,
		total_games = EXCLUDED.total_games,
		last_calculated = EXCLUDED.last_calculated
`

// TrendWindow is how far back hero trends look.
const TrendWindow = 7 * 24 * time.Hour

// replacement recomputes one derived table. Date-partitioned tables clear
// the day before inserting; keyed tables prune rows the insert did not touch.
type replacement struct {
	table      string
	clearFirst bool
	clear      string
	clearArgs  []any
	insert     string
	insertArgs []any
}

// RecomputeHeroStatistics replaces hero_statistics wholesale.
func (s *Store) RecomputeHeroStatistics(ctx context.Context, now time.Time) (int64, error) {
	return s.replace(ctx, replacement{
		table:      "hero_statistics",
		insert:     recomputeHeroStatisticsSQL,
		insertArgs: []any{now},
		clear:      `DELETE FROM hero_statistics WHERE last_calculated < $1`,
		clearArgs:  []any{now},
	})
}

// RecomputeRankDistribution replaces the snapshot for now's date.
func (s *Store) RecomputeRankDistribution(ctx context.Context, now time.Time) (int64, error) {
	day := dateOf(now)
	return s.replace(ctx, replacement{
		table:      "rank_distribution",
		clearFirst: true,
		clear:      `DELETE FROM rank_distribution WHERE snapshot_date = $1::date`,
		clearArgs:  []any{day},
		insert:     recomputeRankDistributionSQL,
		insertArgs: []any{day},
	})
}

// RecomputeHeroTrends replaces the trend rows for now's date from hero rows
// played within TrendWindow.
func (s *Store) RecomputeHeroTrends(ctx context.Context, now time.Time) (int64, error) {
	day := dateOf(now)
	return s.replace(ctx, replacement{
		table:      "hero_trends",
		clearFirst: true,
		clear:      `DELETE FROM hero_trends WHERE trend_date = $1::date`,
		clearArgs:  []any{day},
		insert:     recomputeHeroTrendsSQL,
		insertArgs: []any{day, now.Add(-TrendWindow)},
	})
}

// RecomputeRoleStatistics replaces role_statistics from the fixed role
// mapping.
func (s *Store) RecomputeRoleStatistics(ctx context.Context, now time.Time) (int64, error) {
	heroes, roles := roleMapping()
	return s.replace(ctx, replacement{
		table:      "role_statistics",
		insert:     recomputeRoleStatisticsSQL,
		insertArgs: []any{heroes, roles, now},
		clear:      `DELETE FROM role_statistics WHERE last_calculated < $1`,
		clearArgs:  []any{now},
	})
}

func (s *Store) replace(ctx context.Context, r replacement) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", r.table, err)
	}
	defer s.rollback(ctx, tx)

	if r.clearFirst {
		if _, err := tx.Exec(ctx, r.clear, r.clearArgs...); err != nil {
			return 0, fmt.Errorf("%s: clear: %w", r.table, err)
		}
	}

	tag, err := tx.Exec(ctx, r.insert, r.insertArgs...)
	if err != nil {
		return 0, fmt.Errorf("%s: recompute: %w", r.table, err)
	}

	if !r.clearFirst {
		if _, err := tx.Exec(ctx, r.clear, r.clearArgs...); err != nil {
			return 0, fmt.Errorf("%s: prune: %w", r.table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", r.table, err)
	}
	return tag.RowsAffected(), nil
}

// roleMapping flattens RoleHeroes into parallel hero/role arrays for unnest.
func roleMapping() ([]string, []string) {
	var heroes, roles []string
	for _, role := range models.Roles {
		list := append([]string(nil), models.RoleHeroes[role]...)
		sort.Strings(list)
		for _, h := range list {
			heroes = append(heroes, h)
			roles = append(roles, role)
		}
	}
	return heroes, roles
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
