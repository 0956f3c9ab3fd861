package models

import "time"

// HeroStatistics is keyed by (HeroKey, GameMode) and fully recomputed each pass.
type HeroStatistics struct {
	HeroKey          string    `json:"hero_key"`
	HeroName         string    `json:"hero_name"`
	Role             string    `json:"role"`
	GameMode         string    `json:"game_mode"`
	TotalGamesPlayed int64     `json:"total_games_played"`
	TotalWins        int64     `json:"total_wins"`
	TotalLosses      int64     `json:"total_losses"`
	PickCount        int64     `json:"pick_count"`
	PickRate         float64   `json:"pick_rate"`
	WinRate          float64   `json:"win_rate"`
	AvgEliminations  float64   `json:"avg_eliminations_per_10"`
	AvgDeaths        float64   `json:"avg_deaths_per_10"`
	AvgAssists       float64   `json:"avg_assists_per_10"`
	AvgKDA           float64   `json:"avg_kda"`
	LastCalculated   time.Time `json:"last_calculated"`
}

// RankDistribution is keyed by (SRBracket, SnapshotDate).
type RankDistribution struct {
	SRBracket    int       `json:"sr_bracket"`
	BracketName  string    `json:"bracket_name"`
	PlayerCount  int64     `json:"player_count"`
	Percentage   float64   `json:"percentage"`
	SnapshotDate time.Time `json:"snapshot_date"`
}

// HeroTrend is keyed by (HeroKey, TrendDate, GameMode).
type HeroTrend struct {
	HeroKey     string    `json:"hero_key"`
	TrendDate   time.Time `json:"trend_date"`
	GameMode    string    `json:"game_mode"`
	PickRate    float64   `json:"pick_rate"`
	WinRate     float64   `json:"win_rate"`
	GamesPlayed int64     `json:"games_played"`
	AvgKDA      float64   `json:"avg_kda"`
}

// RoleStatistics is keyed by (Role, GameMode).
type RoleStatistics struct {
	Role           string    `json:"role"`
	GameMode       string    `json:"game_mode"`
	AvgWinRate     float64   `json:"avg_win_rate"`
	AvgPickRate    float64   `json:"avg_pick_rate"`
	AvgKDA         float64   `json:"avg_kda"`
	TotalPlayers   int64     `json:"total_players"`
	TotalGames     int64     `json:"total_games"`
	LastCalculated time.Time `json:"last_calculated"`
}

// WinRate returns wins / (wins + losses) as a percentage, 0 when no decided games.
func WinRate(wins, losses int64) float64 {
	if wins+losses <= 0 {
		return 0
	}
	return float64(wins) / float64(wins+losses) * 100
}

// KDA returns (eliminations + assists) / deaths, or eliminations + assists when
// there are no deaths.
func KDA(eliminations, assists, deaths int64) float64 {
	if deaths > 0 {
		return float64(eliminations+assists) / float64(deaths)
	}
	return float64(eliminations + assists)
}
