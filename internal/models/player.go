package models

import (
	"strings"
	"time"
)

// Platforms
const (
	PlatformPC      = "pc"
	PlatformConsole = "console"
)

// Game modes
const (
	GameModeCompetitive = "competitive"
	GameModeQuickplay   = "quickplay"
)

// GameModes lists the modes extracted from upstream career stats, in extraction order.
var GameModes = []string{GameModeCompetitive, GameModeQuickplay}

// Regions
const (
	RegionUS   = "us"
	RegionEU   = "eu"
	RegionAsia = "asia"
)

// Player is one row per (battletag, platform).
type Player struct {
	PlayerID    string    `json:"player_id"`
	Battletag   string    `json:"battletag"`
	Platform    string    `json:"platform"`
	Region      string    `json:"region"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatar_url"`
	SkillRating *int      `json:"skill_rating"`
	LastUpdated time.Time `json:"last_updated"`
}

// HeroStat is keyed by (PlayerID, HeroKey, Platform, GameMode).
// TimePlayed is in minutes.
type HeroStat struct {
	PlayerID     string    `json:"player_id"`
	HeroKey      string    `json:"hero_key"`
	Platform     string    `json:"platform"`
	GameMode     string    `json:"game_mode"`
	Wins         int64     `json:"wins"`
	Losses       int64     `json:"losses"`
	Draws        int64     `json:"draws"`
	TimePlayed   int64     `json:"time_played"`
	Eliminations int64     `json:"eliminations"`
	Deaths       int64     `json:"deaths"`
	Assists      int64     `json:"assists"`
	DamageDealt  int64     `json:"damage_dealt"`
	HealingDone  int64     `json:"healing_done"`
	SkillTier    int       `json:"skill_tier"`
	LastPlayed   time.Time `json:"last_played"`
}

// Less orders hero stats by their composite key. Batches are written in this
// order so concurrent transactions lock rows in the same sequence.
func (h HeroStat) Less(o HeroStat) bool {
	if h.PlayerID != o.PlayerID {
		return h.PlayerID < o.PlayerID
	}
	if h.HeroKey != o.HeroKey {
		return h.HeroKey < o.HeroKey
	}
	if h.Platform != o.Platform {
		return h.Platform < o.Platform
	}
	return h.GameMode < o.GameMode
}

// PlayerRef identifies a player to fetch.
type PlayerRef struct {
	Battletag string `json:"battletag" validate:"required,max=32"`
	Platform  string `json:"platform" validate:"omitempty,oneof=pc console"`
}

// CanonicalBattletag converts the URL form "Name-1234" to "Name#1234".
// Battle.net names cannot contain hyphens, so the last hyphen is the separator.
func CanonicalBattletag(battletag string) string {
	battletag = strings.TrimSpace(battletag)
	if strings.Contains(battletag, "#") {
		return battletag
	}
	if i := strings.LastIndex(battletag, "-"); i > 0 {
		return battletag[:i] + "#" + battletag[i+1:]
	}
	return battletag
}

// URLBattletag converts "Name#1234" to the "Name-1234" form used in upstream paths.
func URLBattletag(battletag string) string {
	return strings.ReplaceAll(CanonicalBattletag(battletag), "#", "-")
}

// NormalizePlatform lowercases the platform and defaults it to pc.
func NormalizePlatform(platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" {
		return PlatformPC
	}
	return platform
}

// PlayerID derives the stable identifier for a (battletag, platform) pair,
// e.g. "pge#11208" on pc becomes "pge_11208_pc".
func PlayerID(battletag, platform string) string {
	tag := strings.ReplaceAll(CanonicalBattletag(battletag), "#", "_")
	return tag + "_" + NormalizePlatform(platform)
}

// DetectRegion is a best-effort guess from markers in the battletag.
// It defaults to us and must not be used to partition statistics.
func DetectRegion(battletag string) string {
	upper := strings.ToUpper(battletag)
	switch {
	case strings.Contains(upper, "ASIA"):
		return RegionAsia
	case strings.Contains(upper, "EU"):
		return RegionEU
	default:
		return RegionUS
	}
}
