package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealgen/internal/domain"
)

const sampleTiers = `
default_tier: free
tiers:
  free:
    recipe_generation: 3
  pro:
    recipe_generation: 100
accounts:
  vip-account: pro
`

func TestParseTierCatalog(t *testing.T) {
	c, err := ParseTierCatalog([]byte(sampleTiers))
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, c.DefaultTier)
	n, err := c.LimitFor(domain.TierPro, domain.ResourceRecipeGeneration)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = c.LimitFor("enterprise", domain.ResourceRecipeGeneration)
	assert.ErrorIs(t, err, domain.ErrUnsupportedTier)
}

func TestParseTierCatalogRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no tiers":          "default_tier: free\n",
		"undefined default": "default_tier: gold\ntiers:\n  free:\n    recipe_generation: 1\n",
		"negative limit":    "tiers:\n  free:\n    recipe_generation: -1\n",
		"account tier":      "tiers:\n  free:\n    recipe_generation: 1\naccounts:\n  a: pro\n",
		"not yaml":          "tiers: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTierCatalog([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadTierCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTiers), 0o600))
	c, err := LoadTierCatalog(path)
	require.NoError(t, err)
	assert.True(t, c.Has(domain.TierPro))

	def, err := LoadTierCatalog("")
	require.NoError(t, err)
	assert.True(t, def.Has(domain.TierStudio))
}

type stubAccounts struct {
	tiers map[string]domain.Tier
}

func (s stubAccounts) GetTier(ctx context.Context, accountID string) (domain.Tier, error) {
	tier, ok := s.tiers[accountID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return tier, nil
}

func (s stubAccounts) SetTier(ctx context.Context, accountID string, tier domain.Tier) error {
	s.tiers[accountID] = tier
	return nil
}

func TestLimitsResolveThroughRepository(t *testing.T) {
	c, err := ParseTierCatalog([]byte(sampleTiers))
	require.NoError(t, err)
	resolver := RepositoryResolver{
		Accounts: stubAccounts{tiers: map[string]domain.Tier{"db-pro": domain.TierPro}},
		Fallback: StaticResolver{Catalog: c},
	}
	limits := NewLimits(c, resolver)
	ctx := context.Background()

	tests := []struct {
		account string
		want    int
	}{
		{"db-pro", 100},
		{"vip-account", 100},
		{"someone", 3},
	}
	for _, tc := range tests {
		n, err := limits.Limit(ctx, tc.account, domain.ResourceRecipeGeneration)
		require.NoError(t, err)
		assert.Equal(t, tc.want, n, tc.account)
	}
}

func TestStaticLimitsDefault(t *testing.T) {
	c, err := ParseTierCatalog([]byte(sampleTiers))
	require.NoError(t, err)
	limits := NewLimits(c, nil)
	n, err := limits.Limit(context.Background(), "vip-account", domain.ResourceRecipeGeneration)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}
