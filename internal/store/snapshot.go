package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/owmeta/stats-api/internal/models"
)

var heroRowsUpserted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "owstats_hero_rows_upserted_total",
	Help: "Hero stat rows written by ingest",
})

// The WHERE clause makes the write conditional inside the upsert itself, so
// the older of two concurrent snapshots can never overwrite the newer one.
// RETURNING yields no row when the existing row was kept.
const upsertPlayerSQL = `
	INSERT INTO players (
		player_id, battletag, platform, region, username, avatar_url, skill_rating, last_updated
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (battletag, platform) DO UPDATE SET
		region = EXCLUDED.region,
		username = EXCLUDED.username,
		avatar_url = EXCLUDED.avatar_url,
		skill_rating = EXCLUDED.skill_rating,
		last_updated = EXCLUDED.last_updated
	WHERE EXCLUDED.last_updated > players.last_updated
	RETURNING player_id
`

const upsertHeroStatSQL = `
	INSERT INTO hero_stats (
		player_id, hero_key, platform, game_mode,
		wins, losses, draws, time_played,
		eliminations, deaths, assists, damage_dealt, healing_done,
		skill_tier, last_played
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (player_id, hero_key, platform, game_mode) DO UPDATE SET
		wins = EXCLUDED.wins,
		losses = EXCLUDED.losses,
		draws = EXCLUDED.draws,
		time_played = EXCLUDED.time_played,
		eliminations = EXCLUDED.eliminations,
		deaths = EXCLUDED.deaths,
		assists = EXCLUDED.assists,
		damage_dealt = EXCLUDED.damage_dealt,
		healing_done = EXCLUDED.healing_done,
		skill_tier = EXCLUDED.skill_tier,
		last_played = EXCLUDED.last_played
	WHERE EXCLUDED.last_played > hero_stats.last_played
`

// WriteSnapshot upserts the player and its hero rows in one transaction.
// Each row is kept only when strictly newer than the stored one, so a delayed
// snapshot can still add hero rows the store has never seen. Hero rows are
// written in key order. The result reports whether the player row itself was
// inserted or overwritten.
func (s *Store) WriteSnapshot(ctx context.Context, player models.Player, stats []models.HeroStat) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(ctx, tx)

	playerWritten := true
	var id string
	err = tx.QueryRow(ctx, upsertPlayerSQL,
		player.PlayerID,
		player.Battletag,
		player.Platform,
		player.Region,
		player.Username,
		player.AvatarURL,
		player.SkillRating,
		player.LastUpdated,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		playerWritten = false
		err = nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert player %s: %w", player.PlayerID, err)
	}

	var heroRows int64
	if len(stats) > 0 {
		sorted := make([]models.HeroStat, len(stats))
		copy(sorted, stats)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

		batch := &pgx.Batch{}
		for _, h := range sorted {
			batch.Queue(upsertHeroStatSQL,
				h.PlayerID, h.HeroKey, h.Platform, h.GameMode,
				h.Wins, h.Losses, h.Draws, h.TimePlayed,
				h.Eliminations, h.Deaths, h.Assists, h.DamageDealt, h.HealingDone,
				h.SkillTier, h.LastPlayed,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, h := range sorted {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return false, fmt.Errorf("upsert hero %s/%s: %w", h.HeroKey, h.GameMode, err)
			}
			heroRows += tag.RowsAffected()
		}
		if err := br.Close(); err != nil {
			return false, fmt.Errorf("close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	heroRowsUpserted.Add(float64(heroRows))
	return playerWritten, nil
}
