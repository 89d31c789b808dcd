package domain

import "time"

// Tier enumerates subscription tiers. The set is open: the tier catalog may
// define more.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierFamily Tier = "family"
	TierStudio Tier = "studio"
)

// DefaultTier applies to accounts without an explicit tier.
const DefaultTier = TierFree

// ResourceKind names a metered resource.
type ResourceKind string

const (
	// ResourceRecipeGeneration is charged one unit per ItemTask.
	ResourceRecipeGeneration ResourceKind = "recipe_generation"
)

// Account is the slice of the account record the orchestrator reads.
type Account struct {
	ID        string
	Tier      Tier
	UpdatedAt time.Time
}
