package models

import (
	"strconv"
	"strings"
)

// Divisions in ladder order.
var Divisions = []string{
	"bronze", "silver", "gold", "platinum", "diamond", "master", "grandmaster", "champion",
}

var divisionBaseRating = map[string]int{
	"bronze":      1000,
	"silver":      1500,
	"gold":        2000,
	"platinum":    2500,
	"diamond":     3000,
	"master":      3500,
	"grandmaster": 4000,
	"champion":    4500,
}

// RankBrackets are the floors of the eight rank-distribution bands.
var RankBrackets = []int{1000, 1500, 2000, 2500, 3000, 3500, 4000, 4500}

const (
	minTier = 1
	maxTier = 5
)

// SkillRatingFor approximates SR from a (division, tier) pair.
// Tier 5 is the bottom of a division and tier 1 the top.
func SkillRatingFor(division string, tier int) (int, bool) {
	base, ok := divisionBaseRating[strings.ToLower(division)]
	if !ok || tier < minTier || tier > maxTier {
		return 0, false
	}
	return base + (5-tier)*100, true
}

// SkillTierOrdinal maps a (division, tier) pair onto 0-36:
// 0 unranked, 1 Bronze 5 through 35 Grandmaster 1, 36 Champion.
func SkillTierOrdinal(division string, tier int) int {
	division = strings.ToLower(division)
	if division == "champion" {
		return 36
	}
	if tier < minTier || tier > maxTier {
		return 0
	}
	for i, d := range Divisions {
		if d == division {
			return i*5 + (6 - tier)
		}
	}
	return 0
}

// SkillTierName returns the display name for a 0-36 ordinal.
func SkillTierName(ordinal int) string {
	switch {
	case ordinal <= 0:
		return "Unranked"
	case ordinal >= 36:
		return "Champion"
	}
	div := (ordinal - 1) / 5
	tier := 5 - (ordinal-1)%5
	return divisionTitle(Divisions[div]) + " " + strconv.Itoa(tier)
}

// RankBracket returns the band floor for an SR, clamped into 1000..4500.
func RankBracket(sr int) int {
	b := (sr / 500) * 500
	if b < RankBrackets[0] {
		return RankBrackets[0]
	}
	if last := RankBrackets[len(RankBrackets)-1]; b > last {
		return last
	}
	return b
}

// BracketName returns the division name of a band floor.
func BracketName(bracket int) string {
	idx := (RankBracket(bracket) - RankBrackets[0]) / 500
	return divisionTitle(Divisions[idx])
}

// RankName converts an SR into "Gold 3" style text. Nil SR is Unranked.
func RankName(sr *int) string {
	if sr == nil {
		return "Unranked"
	}
	v := *sr
	if v >= 4500 {
		return "Champion"
	}
	bracket := RankBracket(v)
	tier := 5 - (v-bracket)/100
	if tier < minTier {
		tier = minTier
	}
	if tier > maxTier {
		tier = maxTier
	}
	return BracketName(bracket) + " " + strconv.Itoa(tier)
}

func divisionTitle(d string) string {
	if d == "" {
		return d
	}
	return strings.ToUpper(d[:1]) + d[1:]
}
