package pipeline

import (
	"context"
	"time"

	"mealgen/internal/breaker"
	"mealgen/internal/domain"
	"mealgen/internal/external"
	"mealgen/internal/infra"
	"mealgen/internal/phash"
	"mealgen/internal/progress"
	"mealgen/internal/providers/genai"
	"mealgen/internal/providers/nutrition"
	"mealgen/internal/quota"
	"mealgen/internal/retry"
	"mealgen/internal/storage"
)

// Config tunes the orchestrator.
type Config struct {
	Parallelism    int
	MaxItems       int
	PlaceholderURL string
	DedupeScope    phash.ScopePolicy
	Retry          retry.Policy
	Breaker        breaker.Config
	Adapters       map[external.Kind]external.Config
}

// ConfigFromInfra maps the environment configuration onto the orchestrator.
func ConfigFromInfra(cfg *infra.Config) Config {
	return Config{
		Parallelism:    cfg.JobParallel,
		MaxItems:       cfg.MaxItemsJob,
		PlaceholderURL: cfg.PlaceholderURL,
		DedupeScope:    phash.ScopePolicy(cfg.DedupeScope),
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Deadline:    cfg.StageDeadline,
			Jitter:      0.2,
		},
		Breaker: breaker.Config{
			Window:      cfg.BreakerWindow,
			MinSamples:  cfg.BreakerMinSamples,
			FailureRate: cfg.BreakerFailRate,
			Cooldown:    cfg.BreakerCooldown,
			MaxCooldown: cfg.BreakerMaxCool,
		},
		Adapters: map[external.Kind]external.Config{
			external.KindConcept:   {Kind: external.KindConcept, Timeout: cfg.AdapterTimeout, RPS: cfg.ConceptRPS, Burst: 2},
			external.KindNutrition: {Kind: external.KindNutrition, Timeout: cfg.AdapterTimeout, RPS: cfg.NutritionRPS, Burst: 2},
			external.KindImage:     {Kind: external.KindImage, Timeout: cfg.ImageTimeout, RPS: cfg.ImageRPS, Burst: 1},
			external.KindStorage:   {Kind: external.KindStorage, Timeout: cfg.AdapterTimeout},
			external.KindPersist:   {Kind: external.KindPersist, Timeout: cfg.AdapterTimeout},
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 20
	}
	if c.DedupeScope == "" {
		c.DedupeScope = phash.ScopeAccount
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultPolicy()
	}
	return c
}

func (c Config) adapter(kind external.Kind) external.Config {
	ac, ok := c.Adapters[kind]
	if !ok {
		ac = external.Config{Timeout: 30 * time.Second}
	}
	ac.Kind = kind
	return ac
}

// ConceptDrafter drafts recipe concepts.
type ConceptDrafter interface {
	DraftConcept(ctx context.Context, req genai.ConceptRequest) (domain.ConceptPayload, error)
}

// NutritionScorer validates concepts.
type NutritionScorer interface {
	Score(ctx context.Context, req nutrition.Request) (domain.ValidationPayload, error)
}

// ImageRenderer renders a photo of a concept.
type ImageRenderer interface {
	RenderImage(ctx context.Context, req genai.ImageRequest) (domain.ImagePayload, error)
}

// Deps are the collaborators of the orchestrator. Every field is required
// except Logger and BreakerOptions.
type Deps struct {
	Jobs      domain.JobStore
	Results   domain.ResultStore
	Ledger    quota.Ledger
	Hashes    *phash.Store
	Tracker   *progress.Tracker
	Storage   storage.Store
	Concepts  ConceptDrafter
	Nutrition NutritionScorer
	Images    ImageRenderer
	Logger    infra.Logger

	BreakerOptions []breaker.Option
}
