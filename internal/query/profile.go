package query

import (
	"github.com/owmeta/stats-api/internal/models"
)

// BuildProfile rolls hero rows up into the player detail view.
func BuildProfile(player models.Player, stats []models.HeroStat) *models.PlayerProfile {
	profile := &models.PlayerProfile{
		Player:       player,
		CurrentRank:  models.RankName(player.SkillRating),
		PlayedHeroes: make(map[string]models.HeroSummary),
	}

	elims := make(map[string][3]int64)
	for _, h := range stats {
		sum := profile.PlayedHeroes[h.HeroKey]
		sum.HeroKey = h.HeroKey
		sum.HeroName = models.HeroDisplayName(h.HeroKey)
		sum.Role = models.HeroRole(h.HeroKey)
		sum.Wins += h.Wins
		sum.Losses += h.Losses
		sum.GamesPlayed += h.Wins + h.Losses + h.Draws
		sum.TimePlayed += h.TimePlayed
		profile.PlayedHeroes[h.HeroKey] = sum

		e := elims[h.HeroKey]
		elims[h.HeroKey] = [3]int64{e[0] + h.Eliminations, e[1] + h.Assists, e[2] + h.Deaths}

		profile.TotalWins += h.Wins
		profile.TotalLosses += h.Losses
		profile.TotalPlayTime += h.TimePlayed
	}

	for key, sum := range profile.PlayedHeroes {
		e := elims[key]
		sum.WinRate = models.WinRate(sum.Wins, sum.Losses)
		sum.KDA = models.KDA(e[0], e[1], e[2])
		profile.PlayedHeroes[key] = sum
	}

	profile.HeroesPlayed = len(profile.PlayedHeroes)
	profile.WinRate = models.WinRate(profile.TotalWins, profile.TotalLosses)
	profile.MainHero = MainHero(stats)
	return profile
}

// MainHero picks the hero with the highest skill tier. Ties go to the hero
// with the most summed play time, then to the lower hero key.
func MainHero(stats []models.HeroStat) string {
	if len(stats) == 0 {
		return ""
	}

	tier := make(map[string]int)
	played := make(map[string]int64)
	for _, h := range stats {
		if h.SkillTier > tier[h.HeroKey] {
			tier[h.HeroKey] = h.SkillTier
		}
		played[h.HeroKey] += h.TimePlayed
	}

	best := ""
	for key := range played {
		switch {
		case best == "":
			best = key
		case tier[key] != tier[best]:
			if tier[key] > tier[best] {
				best = key
			}
		case played[key] != played[best]:
			if played[key] > played[best] {
				best = key
			}
		case key < best:
			best = key
		}
	}
	return best
}
