// Package entitlements holds the process-wide tier -> limits table and the
// Stripe price table. Both are loaded once at startup and never mutated, so
// concurrent readers need no locking.
package entitlements

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/claimgate/pkg/membership"
)

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

// Entitlement is the set of limits and features bound to a tier.
// CountriesPerCheck is reported to clients; the service that runs checks
// enforces it.
type Entitlement struct {
	Tier              membership.Tier `json:"tier" yaml:"-"`
	DailyLimit        int             `json:"daily_limit" yaml:"daily_checks"`
	CountriesPerCheck int             `json:"countries_per_check" yaml:"countries_per_check"`
	Features          map[string]bool `json:"features" yaml:"features"`
}

// IsUnlimited reports whether daily usage is uncapped.
func (e Entitlement) IsUnlimited() bool {
	return e.DailyLimit == Unlimited
}

// HasFeature reports whether the flag is enabled for the tier.
func (e Entitlement) HasFeature(flag string) bool {
	return e.Features[flag]
}

// FeatureList returns the enabled feature flags in sorted order.
func (e Entitlement) FeatureList() []string {
	out := make([]string, 0, len(e.Features))
	for flag, on := range e.Features {
		if on {
			out = append(out, flag)
		}
	}
	sort.Strings(out)
	return out
}

// fileFormat is the on-disk YAML layout.
type fileFormat struct {
	DefaultTier string                 `yaml:"default_tier"`
	Prices      map[string]string      `yaml:"prices"`
	Tiers       map[string]Entitlement `yaml:"tiers"`
}

// Table is the immutable entitlement table.
type Table struct {
	byTier      map[membership.Tier]Entitlement
	prices      map[string]membership.Tier
	defaultTier membership.Tier
}

// Get returns the entitlement for a tier. Unknown tiers get the default
// tier's entitlement.
func (t *Table) Get(tier membership.Tier) Entitlement {
	if e, ok := t.byTier[tier]; ok {
		return e.clone()
	}
	return t.byTier[t.defaultTier].clone()
}

// DefaultTier returns the tier assigned when no price maps.
func (t *Table) DefaultTier() membership.Tier {
	return t.defaultTier
}

// Prices returns a copy of the price ID -> tier table.
func (t *Table) Prices() map[string]membership.Tier {
	out := make(map[string]membership.Tier, len(t.prices))
	for id, tier := range t.prices {
		out[id] = tier
	}
	return out
}

// Resolver builds a membership resolver from the price table.
func (t *Table) Resolver() *membership.Resolver {
	return membership.NewResolver(t.prices, t.defaultTier)
}

func (e Entitlement) clone() Entitlement {
	features := make(map[string]bool, len(e.Features))
	for k, v := range e.Features {
		features[k] = v
	}
	e.Features = features
	return e
}

// Load reads the table from a YAML file. An empty path returns Default().
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlements file: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entitlements: %w", err)
	}
	return build(f)
}

func build(f fileFormat) (*Table, error) {
	t := &Table{
		byTier: make(map[membership.Tier]Entitlement, len(f.Tiers)),
		prices: make(map[string]membership.Tier, len(f.Prices)),
	}

	for name, ent := range f.Tiers {
		tier, err := membership.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("invalid tier in entitlements: %w", err)
		}
		if ent.DailyLimit < Unlimited {
			return nil, fmt.Errorf("tier %s: daily_checks must be >= -1", tier)
		}
		if ent.CountriesPerCheck < Unlimited {
			return nil, fmt.Errorf("tier %s: countries_per_check must be >= -1", tier)
		}
		ent.Tier = tier
		t.byTier[tier] = ent.clone()
	}
	for _, tier := range membership.AllTiers {
		if _, ok := t.byTier[tier]; !ok {
			return nil, fmt.Errorf("entitlements missing tier %s", tier)
		}
	}

	for id, name := range f.Prices {
		tier, err := membership.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", id, err)
		}
		t.prices[id] = tier
	}

	t.defaultTier = membership.TierFree
	if f.DefaultTier != "" {
		tier, err := membership.ParseTier(f.DefaultTier)
		if err != nil {
			return nil, fmt.Errorf("invalid default_tier: %w", err)
		}
		t.defaultTier = tier
	}

	return t, nil
}

// Default returns the built-in table used when no file is configured.
func Default() *Table {
	t, err := build(fileFormat{
		DefaultTier: string(membership.TierFree),
		Prices: map[string]string{
			"price_123STARTER":    "starter",
			"price_456PRO":        "pro",
			"price_789ENTERPRISE": "enterprise",
		},
		Tiers: map[string]Entitlement{
			"free": {
				DailyLimit:        3,
				CountriesPerCheck: 1,
				Features:          map[string]bool{"pro_tools": false, "export": false},
			},
			"starter": {
				DailyLimit:        25,
				CountriesPerCheck: 3,
				Features:          map[string]bool{"pro_tools": false, "export": true},
			},
			"pro": {
				DailyLimit:        200,
				CountriesPerCheck: 10,
				Features:          map[string]bool{"pro_tools": true, "export": true},
			},
			"enterprise": {
				DailyLimit:        Unlimited,
				CountriesPerCheck: Unlimited,
				Features:          map[string]bool{"pro_tools": true, "export": true, "priority_support": true},
			},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("built-in entitlements are invalid: %v", err))
	}
	return t
}
