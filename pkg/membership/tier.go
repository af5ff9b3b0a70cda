package membership

import (
	"fmt"
	"strings"
)

// Tier is a named membership level.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierFree, TierStarter, TierPro, TierEnterprise}

var tierRank = map[Tier]int{
	TierFree:       0,
	TierStarter:    1,
	TierPro:        2,
	TierEnterprise: 3,
}

// Rank returns the position of the tier in the total order, or -1 for unknown tiers.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Above reports whether t ranks strictly higher than other.
func (t Tier) Above(other Tier) bool {
	return t.Rank() > other.Rank()
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier parses a tier name, ignoring case and surrounding whitespace.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// MaxTier returns the highest of the given tiers and false when none are valid.
func MaxTier(tiers ...Tier) (Tier, bool) {
	best := Tier("")
	for _, t := range tiers {
		if !t.Valid() {
			continue
		}
		if best == "" || t.Above(best) {
			best = t
		}
	}
	return best, best != ""
}
