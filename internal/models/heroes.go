package models

import "strings"

// Roles
const (
	RoleTank    = "tank"
	RoleDamage  = "damage"
	RoleSupport = "support"
)

// Roles lists the fixed roles in display order.
var Roles = []string{RoleTank, RoleDamage, RoleSupport}

// AllHeroesKey is the synthetic aggregate entry in upstream career stats.
const AllHeroesKey = "all-heroes"

// RoleHeroes is the fixed role to hero-key mapping used for role statistics.
var RoleHeroes = map[string][]string{
	RoleTank: {
		"dva", "doomfist", "hazard", "junker-queen", "mauga", "orisa", "ramattra",
		"reinhardt", "roadhog", "sigma", "winston", "wrecking-ball", "zarya",
	},
	RoleDamage: {
		"ashe", "bastion", "cassidy", "echo", "freja", "genji", "hanzo", "junkrat", "mei",
		"pharah", "reaper", "sojourn", "soldier-76", "sombra", "symmetra", "torbjorn",
		"tracer", "venture", "widowmaker",
	},
	RoleSupport: {
		"ana", "baptiste", "brigitte", "illari", "juno", "kiriko", "lifeweaver", "lucio",
		"mercy", "moira", "zenyatta",
	},
}

var heroRole = func() map[string]string {
	m := make(map[string]string)
	for role, heroes := range RoleHeroes {
		for _, h := range heroes {
			m[h] = role
		}
	}
	return m
}()

var heroNames = map[string]string{
	"dva":           "D.Va",
	"junker-queen":  "Junker Queen",
	"soldier-76":    "Soldier: 76",
	"wrecking-ball": "Wrecking Ball",
	"torbjorn":      "Torbjörn",
	"lucio":         "Lúcio",
}

// HeroRole returns the role of a hero key. Unknown heroes count as damage.
func HeroRole(heroKey string) string {
	if role, ok := heroRole[heroKey]; ok {
		return role
	}
	return RoleDamage
}

// HeroDisplayName turns "junker-queen" into "Junker Queen".
func HeroDisplayName(heroKey string) string {
	if name, ok := heroNames[heroKey]; ok {
		return name
	}
	parts := strings.Split(heroKey, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
