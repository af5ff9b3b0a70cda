package entitlements

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/claimgate/pkg/membership"
)

const sampleYAML = `
default_tier: free
prices:
  price_s: starter
  price_p: pro
tiers:
  free:
    daily_checks: 0
    countries_per_check: 1
  starter:
    daily_checks: 5
    countries_per_check: 2
    features:
      export: true
  pro:
    daily_checks: 50
    countries_per_check: 5
    features:
      export: true
      pro_tools: true
  enterprise:
    daily_checks: -1
    countries_per_check: -1
    features:
      pro_tools: true
`

func TestParse(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, membership.TierFree, table.DefaultTier())

	pro := table.Get(membership.TierPro)
	assert.Equal(t, membership.TierPro, pro.Tier)
	assert.Equal(t, 50, pro.DailyLimit)
	assert.True(t, pro.HasFeature("pro_tools"))
	assert.Equal(t, []string{"export", "pro_tools"}, pro.FeatureList())

	ent := table.Get(membership.TierEnterprise)
	assert.True(t, ent.IsUnlimited())
	assert.False(t, ent.HasFeature("export"))

	assert.Equal(t, 0, table.Get(membership.TierFree).DailyLimit)
}

func TestParse_ResolverUsesPrices(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	r := table.Resolver()
	assert.Equal(t, membership.TierPro, r.Resolve([]string{"price_s", "price_p"}))
	assert.Equal(t, membership.TierFree, r.Resolve([]string{"price_x"}))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "tiers: ["},
		{"unknown tier", "tiers:\n  gold:\n    daily_checks: 1\n"},
		{"missing tiers", "tiers:\n  free:\n    daily_checks: 1\n"},
		{"bad limit", "tiers:\n  free:\n    daily_checks: -2\n  starter: {}\n  pro: {}\n  enterprise: {}\n"},
		{"bad default", "default_tier: gold\ntiers:\n  free: {}\n  starter: {}\n  pro: {}\n  enterprise: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_InvalidPriceTier(t *testing.T) {
	_, err := Parse([]byte("prices:\n  price_x: gold\ntiers:\n  free: {}\n  starter: {}\n  pro: {}\n  enterprise: {}\n"))
	assert.Error(t, err)
}

func TestGet_ReturnsCopy(t *testing.T) {
	table := Default()
	ent := table.Get(membership.TierPro)
	ent.Features["pro_tools"] = false

	assert.True(t, table.Get(membership.TierPro).HasFeature("pro_tools"))
}

func TestGet_UnknownTierUsesDefault(t *testing.T) {
	table := Default()
	assert.Equal(t, table.Get(membership.TierFree), table.Get(membership.Tier("gold")))
}

func TestLoad(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.Len(t, table.Prices(), 3)

	path := filepath.Join(t.TempDir(), "entitlements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	table, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, table.Get(membership.TierStarter).DailyLimit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
