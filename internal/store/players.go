package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/owmeta/stats-api/internal/models"
)

const playerColumns = `
	player_id, battletag, platform, COALESCE(region, ''), COALESCE(username, ''),
	COALESCE(avatar_url, ''), skill_rating, last_updated`

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	err := row.Scan(
		&p.PlayerID, &p.Battletag, &p.Platform, &p.Region, &p.Username,
		&p.AvatarURL, &p.SkillRating, &p.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayer returns the player for a (battletag, platform) pair or ErrNotFound.
func (s *Store) GetPlayer(ctx context.Context, battletag, platform string) (*models.Player, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE battletag = $1 AND platform = $2`,
		models.CanonicalBattletag(battletag), models.NormalizePlatform(platform),
	)
	p, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	return p, nil
}

// PlayerHeroStats returns all hero rows of a player, most played first.
func (s *Store) PlayerHeroStats(ctx context.Context, playerID string) ([]models.HeroStat, error) {
	rows, err := s.db.Query(ctx, `
		SELECT player_id, hero_key, platform, game_mode, wins, losses, draws, time_played,
			eliminations, deaths, assists, damage_dealt, healing_done, skill_tier, last_played
		FROM hero_stats
		WHERE player_id = $1
		ORDER BY time_played DESC, hero_key, game_mode
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("query hero stats: %w", err)
	}
	defer rows.Close()

	out := []models.HeroStat{}
	for rows.Next() {
		var h models.HeroStat
		if err := rows.Scan(
			&h.PlayerID, &h.HeroKey, &h.Platform, &h.GameMode, &h.Wins, &h.Losses, &h.Draws, &h.TimePlayed,
			&h.Eliminations, &h.Deaths, &h.Assists, &h.DamageDealt, &h.HealingDone, &h.SkillTier, &h.LastPlayed,
		); err != nil {
			return nil, fmt.Errorf("scan hero stat: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchPlayers matches battletag or username case-insensitively, newest first.
func (s *Store) SearchPlayers(ctx context.Context, query string, limit int) ([]models.PlayerSearchResult, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"

	rows, err := s.db.Query(ctx, `
		SELECT player_id, battletag, COALESCE(username, ''), COALESCE(avatar_url, ''), platform, skill_rating
		FROM players
		WHERE LOWER(battletag) LIKE $1 ESCAPE '\' OR LOWER(username) LIKE $1 ESCAPE '\'
		ORDER BY last_updated DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search players: %w", err)
	}
	defer rows.Close()

	out := []models.PlayerSearchResult{}
	for rows.Next() {
		var r models.PlayerSearchResult
		if err := rows.Scan(&r.PlayerID, &r.Battletag, &r.Username, &r.AvatarURL, &r.Platform, &r.SkillRating); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentPlayers returns the most recently updated players with their most
// played hero and decided game count.
func (s *Store) RecentPlayers(ctx context.Context, limit int) ([]models.RecentPlayer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.player_id, p.battletag, COALESCE(p.username, ''), COALESCE(p.avatar_url, ''),
			p.platform, p.skill_rating, p.last_updated,
			COALESCE((
				SELECT hs.hero_key FROM hero_stats hs
				WHERE hs.player_id = p.player_id
				ORDER BY hs.time_played DESC, hs.hero_key
				LIMIT 1
			), ''),
			COALESCE((
				SELECT SUM(hs.wins + hs.losses) FROM hero_stats hs
				WHERE hs.player_id = p.player_id
			), 0)::bigint
		FROM players p
		ORDER BY p.last_updated DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent players: %w", err)
	}
	defer rows.Close()

	out := []models.RecentPlayer{}
	for rows.Next() {
		var r models.RecentPlayer
		if err := rows.Scan(
			&r.PlayerID, &r.Battletag, &r.Username, &r.AvatarURL,
			&r.Platform, &r.SkillRating, &r.LastUpdated,
			&r.MostPlayedHero, &r.TotalGames,
		); err != nil {
			return nil, fmt.Errorf("scan recent player: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StalePlayers returns players last updated before the cutoff, oldest first.
func (s *Store) StalePlayers(ctx context.Context, before time.Time, limit int) ([]models.PlayerRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT battletag, platform
		FROM players
		WHERE last_updated < $1
		ORDER BY last_updated ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("stale players: %w", err)
	}
	defer rows.Close()

	out := []models.PlayerRef{}
	for rows.Next() {
		var r models.PlayerRef
		if err := rows.Scan(&r.Battletag, &r.Platform); err != nil {
			return nil, fmt.Errorf("scan stale player: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
