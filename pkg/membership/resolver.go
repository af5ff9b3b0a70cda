package membership

import "strings"

// Resolver maps external price identifiers to a tier.
// It holds a private copy of the price table and is safe for concurrent use.
type Resolver struct {
	prices      map[string]Tier
	defaultTier Tier
}

// NewResolver creates a resolver over the given price table. Entries with an
// unknown tier are dropped; an invalid default falls back to TierFree.
func NewResolver(prices map[string]Tier, defaultTier Tier) *Resolver {
	table := make(map[string]Tier, len(prices))
	for id, tier := range prices {
		id = strings.TrimSpace(id)
		if id == "" || !tier.Valid() {
			continue
		}
		table[id] = tier
	}
	if !defaultTier.Valid() {
		defaultTier = TierFree
	}
	return &Resolver{prices: table, defaultTier: defaultTier}
}

// Resolve returns the highest tier among the mapped price IDs, or the default
// tier when none of them is mapped.
func (r *Resolver) Resolve(priceIDs []string) Tier {
	candidates := make([]Tier, 0, len(priceIDs))
	for _, id := range priceIDs {
		if tier, ok := r.prices[strings.TrimSpace(id)]; ok {
			candidates = append(candidates, tier)
		}
	}
	if tier, ok := MaxTier(candidates...); ok {
		return tier
	}
	return r.defaultTier
}

// DefaultTier is the tier assigned when no price maps, and on cancellation.
func (r *Resolver) DefaultTier() Tier {
	return r.defaultTier
}

// Known reports whether the price ID is mapped.
func (r *Resolver) Known(priceID string) bool {
	_, ok := r.prices[strings.TrimSpace(priceID)]
	return ok
}
