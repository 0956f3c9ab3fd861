package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/owmeta/stats-api/internal/models"
)

// SkipReason says why a career-stats entry produced no HeroStat row.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipAggregateEntry
	SkipNoPlaytime
	SkipMalformed
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case SkipAggregateEntry:
		return "aggregate_entry"
	case SkipNoPlaytime:
		return "no_playtime"
	case SkipMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// HeroResult is the outcome of parsing one (hero, game mode) entry: either a
// Stat (Skip == NotSkipped) or a SkipReason with an optional Err.
type HeroResult struct {
	HeroKey  string
	GameMode string
	Stat     models.HeroStat
	Skip     SkipReason
	Err      error
}

// OK reports whether the entry produced a row.
func (r HeroResult) OK() bool { return r.Skip == NotSkipped }

// Document is a normalised upstream player document.
type Document struct {
	Player models.Player
	// RoleRanks maps a role (tank, damage, support, open) to its 0-36 tier ordinal.
	RoleRanks map[string]int
	Heroes    []HeroResult
}

// Stats returns the parsed rows sorted by their composite key.
func (d *Document) Stats() []models.HeroStat {
	var out []models.HeroStat
	for _, h := range d.Heroes {
		if h.OK() {
			out = append(out, h.Stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Skipped counts skipped entries by reason.
func (d *Document) Skipped() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, h := range d.Heroes {
		if !h.OK() {
			out[h.Skip]++
		}
	}
	return out
}

// Errors raised while parsing a whole document.
var (
	errNotObject = errors.New("document is not a JSON object")
)

type rawDocument struct {
	Summary json.RawMessage            `json:"summary"`
	Stats   map[string]json.RawMessage `json:"stats"`
}

type rawSummary struct {
	Username    string                                `json:"username"`
	Avatar      string                                `json:"avatar"`
	Competitive map[string]map[string]json.RawMessage `json:"competitive"`
}

type rawRoleRank struct {
	Division string `json:"division"`
	Tier     int    `json:"tier"`
}

type rawGameMode struct {
	CareerStats map[string]json.RawMessage `json:"career_stats"`
}

type rawCategory struct {
	Category string    `json:"category"`
	Stats    []rawStat `json:"stats"`
}

type rawStat struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// rankRoles are checked in this order when computing the highest SR.
var rankRoles = []string{models.RoleTank, models.RoleDamage, models.RoleSupport, "open"}

// Parse normalises msg.RawJSON. Only an unparsable root is an error; problems
// inside the summary or a single hero entry are tolerated and recorded.
func Parse(msg models.FetchMessage) (*Document, error) {
	raw := bytes.TrimSpace([]byte(msg.RawJSON))
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errNotObject
	}

	var root rawDocument
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	platform := models.NormalizePlatform(msg.Platform)
	battletag := models.CanonicalBattletag(msg.Battletag)
	playerID := models.PlayerID(battletag, platform)

	doc := &Document{
		Player: models.Player{
			PlayerID:    playerID,
			Battletag:   battletag,
			Platform:    platform,
			Region:      models.DetectRegion(battletag),
			LastUpdated: msg.FetchTimestamp.UTC(),
		},
		RoleRanks: make(map[string]int),
	}

	parseSummary(root.Summary, platform, doc)

	modes, err := decodeModes(root.Stats[platform])
	if err != nil {
		// Unreadable stats block: keep the player, record no heroes.
		doc.Heroes = append(doc.Heroes, HeroResult{Skip: SkipMalformed, Err: err})
		return doc, nil
	}

	for _, mode := range models.GameModes {
		careerStats := modes[mode]
		heroKeys := make([]string, 0, len(careerStats))
		for k := range careerStats {
			heroKeys = append(heroKeys, k)
		}
		sort.Strings(heroKeys)

		for _, heroKey := range heroKeys {
			res := parseHero(heroKey, mode, careerStats[heroKey])
			if res.OK() {
				res.Stat.PlayerID = playerID
				res.Stat.Platform = platform
				res.Stat.LastPlayed = doc.Player.LastUpdated
				if mode == models.GameModeCompetitive {
					res.Stat.SkillTier = doc.heroTier(heroKey)
				}
			}
			doc.Heroes = append(doc.Heroes, res)
		}
	}

	return doc, nil
}

func decodeModes(raw json.RawMessage) (map[string]map[string]json.RawMessage, error) {
	out := make(map[string]map[string]json.RawMessage)
	if isNull(raw) {
		return out, nil
	}

	var modes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &modes); err != nil {
		return nil, fmt.Errorf("decode platform stats: %w", err)
	}
	for _, mode := range models.GameModes {
		if isNull(modes[mode]) {
			continue
		}
		var gm rawGameMode
		if err := json.Unmarshal(modes[mode], &gm); err != nil {
			return nil, fmt.Errorf("decode %s stats: %w", mode, err)
		}
		out[mode] = gm.CareerStats
	}
	return out, nil
}

func parseSummary(raw json.RawMessage, platform string, doc *Document) {
	if isNull(raw) {
		return
	}
	var s rawSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return
	}
	doc.Player.Username = s.Username
	doc.Player.AvatarURL = s.Avatar

	ranks := s.Competitive[platform]
	var best *int
	for _, role := range rankRoles {
		if isNull(ranks[role]) {
			continue
		}
		var rr rawRoleRank
		if err := json.Unmarshal(ranks[role], &rr); err != nil {
			continue
		}
		sr, ok := models.SkillRatingFor(rr.Division, rr.Tier)
		if !ok {
			continue
		}
		doc.RoleRanks[role] = models.SkillTierOrdinal(rr.Division, rr.Tier)
		if best == nil || sr > *best {
			v := sr
			best = &v
		}
	}
	doc.Player.SkillRating = best
}

// heroTier is the rank ordinal of the hero's role, falling back to open queue.
func (d *Document) heroTier(heroKey string) int {
	if t, ok := d.RoleRanks[models.HeroRole(heroKey)]; ok {
		return t
	}
	return d.RoleRanks["open"]
}

func parseHero(heroKey, mode string, raw json.RawMessage) HeroResult {
	res := HeroResult{HeroKey: heroKey, GameMode: mode}

	if heroKey == models.AllHeroesKey {
		res.Skip = SkipAggregateEntry
		return res
	}
	if isNull(raw) {
		res.Skip = SkipNoPlaytime
		return res
	}

	var categories []rawCategory
	if err := json.Unmarshal(raw, &categories); err != nil {
		res.Skip = SkipMalformed
		res.Err = fmt.Errorf("hero %s (%s): %w", heroKey, mode, err)
		return res
	}

	stat := models.HeroStat{HeroKey: heroKey, GameMode: mode}
	var seconds int64

	for _, cat := range categories {
		for _, st := range cat.Stats {
			target := statTarget(cat.Category, st.Key, &stat, &seconds)
			if target == nil {
				continue
			}
			v, err := numericValue(st.Value)
			if err != nil {
				res.Skip = SkipMalformed
				res.Err = fmt.Errorf("hero %s (%s) %s.%s: %w", heroKey, mode, cat.Category, st.Key, err)
				return res
			}
			*target = v
		}
	}

	stat.TimePlayed = seconds / 60
	if stat.TimePlayed <= 0 {
		res.Skip = SkipNoPlaytime
		return res
	}

	res.Stat = stat
	return res
}

// statTarget returns where a (category, key) value is stored, or nil when the
// stat is not consumed.
func statTarget(category, key string, stat *models.HeroStat, seconds *int64) *int64 {
	switch category {
	case "game":
		switch key {
		case "games_won":
			return &stat.Wins
		case "games_lost":
			return &stat.Losses
		case "games_tied":
			return &stat.Draws
		case "time_played":
			return seconds
		}
	case "combat":
		switch key {
		case "eliminations":
			return &stat.Eliminations
		case "deaths":
			return &stat.Deaths
		case "hero_damage_done":
			return &stat.DamageDealt
		}
	case "assists":
		switch key {
		case "assists":
			return &stat.Assists
		case "healing_done":
			return &stat.HealingDone
		}
	}
	return nil
}

// maxInt64Float is 2^63, the first float64 above the int64 range.
const maxInt64Float = float64(1 << 63)

func numericValue(raw json.RawMessage) (int64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("value %s is not numeric", string(raw))
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 {
			return 0, fmt.Errorf("negative value %d", i)
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", n.String())
	}
	if math.IsNaN(f) || f >= maxInt64Float {
		return 0, fmt.Errorf("value %q out of range", n.String())
	}
	if f < 0 {
		return 0, fmt.Errorf("negative value %v", f)
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
