package models

import "time"

// HeroSummary is a per-hero roll-up across game modes for one player.
type HeroSummary struct {
	HeroKey     string  `json:"hero_key"`
	HeroName    string  `json:"hero_name"`
	Role        string  `json:"role"`
	GamesPlayed int64   `json:"games_played"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	TimePlayed  int64   `json:"time_played"`
	WinRate     float64 `json:"win_rate"`
	KDA         float64 `json:"kda"`
}

// PlayerProfile is the player detail view.
type PlayerProfile struct {
	Player
	CurrentRank   string                 `json:"current_rank"`
	HeroesPlayed  int                    `json:"heroes_played"`
	TotalWins     int64                  `json:"total_wins"`
	TotalLosses   int64                  `json:"total_losses"`
	TotalPlayTime int64                  `json:"total_play_time"`
	WinRate       float64                `json:"win_rate"`
	MainHero      string                 `json:"main_hero,omitempty"`
	PlayedHeroes  map[string]HeroSummary `json:"played_heroes"`
}

// PlayerSearchResult is one match for a battletag or username search.
type PlayerSearchResult struct {
	PlayerID    string `json:"player_id"`
	Battletag   string `json:"battletag"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url"`
	Platform    string `json:"platform"`
	SkillRating *int   `json:"skill_rating"`
}

// RecentPlayer is a recently ingested player.
type RecentPlayer struct {
	PlayerID       string    `json:"player_id"`
	Battletag      string    `json:"battletag"`
	Username       string    `json:"username"`
	AvatarURL      string    `json:"avatar_url"`
	Platform       string    `json:"platform"`
	SkillRating    *int      `json:"skill_rating"`
	LastUpdated    time.Time `json:"last_updated"`
	MostPlayedHero string    `json:"most_played_hero,omitempty"`
	TotalGames     int64     `json:"total_games"`
}

// SnapshotPoint is one archived fetch of a player.
type SnapshotPoint struct {
	FetchedAt   time.Time `json:"fetched_at"`
	SkillRating *int      `json:"skill_rating"`
	HeroRows    uint32    `json:"hero_rows"`
}

// PlayerMetadata is the lightweight player header.
type PlayerMetadata struct {
	Battletag   string    `json:"battletag"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatar_url"`
	Platform    string    `json:"platform"`
	SkillRating *int      `json:"skill_rating"`
	CurrentRank string    `json:"current_rank"`
	LastUpdated time.Time `json:"last_updated"`
}
