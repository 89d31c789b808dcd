package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mealgen/internal/domain"
)

// TierCatalog maps tiers to per-resource monthly limits.
type TierCatalog struct {
	DefaultTier domain.Tier                                 `yaml:"default_tier"`
	Tiers       map[domain.Tier]map[domain.ResourceKind]int `yaml:"tiers"`
	// Accounts pins individual accounts to a tier without a database.
	Accounts map[string]domain.Tier `yaml:"accounts"`
}

// DefaultCatalog is used when no tiers file is configured.
func DefaultCatalog() *TierCatalog {
	return &TierCatalog{
		DefaultTier: domain.DefaultTier,
		Tiers: map[domain.Tier]map[domain.ResourceKind]int{
			domain.TierFree:   {domain.ResourceRecipeGeneration: 30},
			domain.TierPro:    {domain.ResourceRecipeGeneration: 300},
			domain.TierFamily: {domain.ResourceRecipeGeneration: 600},
			domain.TierStudio: {domain.ResourceRecipeGeneration: 3000},
		},
	}
}

// LoadTierCatalog reads a YAML catalog. An empty path yields DefaultCatalog.
func LoadTierCatalog(path string) (*TierCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseTierCatalog(raw)
}

// ParseTierCatalog decodes and validates a YAML catalog.
func ParseTierCatalog(raw []byte) (*TierCatalog, error) {
	var c TierCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	if c.DefaultTier == "" {
		c.DefaultTier = domain.DefaultTier
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every referenced tier exists and limits are sane.
func (c *TierCatalog) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("tiers: at least one tier is required")
	}
	if _, ok := c.Tiers[c.DefaultTier]; !ok {
		return fmt.Errorf("tiers: default tier %q is not defined", c.DefaultTier)
	}
	for tier, limits := range c.Tiers {
		for kind, n := range limits {
			if n < 0 {
				return fmt.Errorf("tiers: %s/%s limit must not be negative", tier, kind)
			}
		}
	}
	for account, tier := range c.Accounts {
		if _, ok := c.Tiers[tier]; !ok {
			return fmt.Errorf("tiers: account %s uses undefined tier %q", account, tier)
		}
	}
	return nil
}

// Has reports whether the tier is defined.
func (c *TierCatalog) Has(tier domain.Tier) bool {
	_, ok := c.Tiers[tier]
	return ok
}

// LimitFor returns the limit of a tier; unknown tiers wrap ErrUnsupportedTier
// and an unlisted resource has limit zero.
func (c *TierCatalog) LimitFor(tier domain.Tier, kind domain.ResourceKind) (int, error) {
	limits, ok := c.Tiers[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedTier, tier)
	}
	return limits[kind], nil
}

// AccountTierResolver finds the tier of an account.
type AccountTierResolver interface {
	TierFor(ctx context.Context, accountID string) (domain.Tier, error)
}

// StaticResolver answers from the catalog's account overrides.
type StaticResolver struct {
	Catalog *TierCatalog
}

func (r StaticResolver) TierFor(ctx context.Context, accountID string) (domain.Tier, error) {
	if tier, ok := r.Catalog.Accounts[accountID]; ok {
		return tier, nil
	}
	return r.Catalog.DefaultTier, nil
}

// RepositoryResolver reads tiers from the account store, falling back to the
// static overrides for unknown accounts.
type RepositoryResolver struct {
	Accounts domain.AccountRepository
	Fallback StaticResolver
}

func (r RepositoryResolver) TierFor(ctx context.Context, accountID string) (domain.Tier, error) {
	tier, err := r.Accounts.GetTier(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && tier == "") {
		return r.Fallback.TierFor(ctx, accountID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve tier: %w", err)
	}
	return tier, nil
}

// Limits combines a catalog and a resolver into a LimitSource.
type Limits struct {
	Catalog  *TierCatalog
	Resolver AccountTierResolver
}

// NewLimits defaults the resolver to the catalog's static overrides.
func NewLimits(catalog *TierCatalog, resolver AccountTierResolver) Limits {
	if resolver == nil {
		resolver = StaticResolver{Catalog: catalog}
	}
	return Limits{Catalog: catalog, Resolver: resolver}
}

func (l Limits) Limit(ctx context.Context, accountID string, kind domain.ResourceKind) (int, error) {
	tier, err := l.Resolver.TierFor(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return l.Catalog.LimitFor(tier, kind)
}

var _ LimitSource = Limits{}
