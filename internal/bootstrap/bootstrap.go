// Package bootstrap assembles the orchestrator and its collaborators from
// configuration. Both the API and the healing worker start from here.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"mealgen/internal/adapter/repo"
	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/infra/credentials"
	"mealgen/internal/jobstore"
	"mealgen/internal/phash"
	"mealgen/internal/pipeline"
	"mealgen/internal/progress"
	"mealgen/internal/providers/genai"
	"mealgen/internal/providers/nutrition"
	"mealgen/internal/quota"
	"mealgen/internal/sqlinline"
	"mealgen/internal/storage"
)

// trackerRetention keeps finished jobs streamable for late subscribers.
const trackerRetention = 2 * time.Minute

// Runtime is a fully wired orchestrator plus the resources it holds open.
type Runtime struct {
	Config       *infra.Config
	Orchestrator *pipeline.Orchestrator
	Jobs         domain.JobStore
	Ledger       quota.Ledger
	Tracker      *progress.Tracker
	Snapshotter  *progress.Snapshotter
	Accounts     domain.AccountRepository
	// StaticDir is set when images are stored on the local filesystem.
	StaticDir string

	closers []func()
}

// Build opens every backend named by cfg. On error everything opened so far
// is closed again.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	var sql infra.SQLExecutor
	if cfg.UsesPostgres() {
		pool, perr := infra.NewDBPool(ctx, cfg)
		if perr != nil {
			return nil, fmt.Errorf("connect database: %w", perr)
		}
		rt.closers = append(rt.closers, pool.Close)
		sql = infra.NewSQLRunner(pool, logger)
		if cfg.AutoMigrate {
			if _, err := sql.Exec(ctx, sqlinline.QCreateSchema); err != nil {
				return nil, fmt.Errorf("apply schema: %w", err)
			}
		}
		rt.Accounts = repo.NewAccountRepository(sql)
	}

	var results domain.ResultStore
	switch cfg.JobStore {
	case "postgres":
		rt.Jobs = repo.NewJobRepository(sql)
		results = repo.NewRecipeRepository(sql)
	case "badger":
		store, berr := jobstore.OpenBadger(cfg.BadgerPath)
		if berr != nil {
			return nil, berr
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		rt.Jobs = store
		results = jobstore.NewMemoryResults()
	default:
		rt.Jobs = jobstore.NewMemory()
		results = jobstore.NewMemoryResults()
	}

	limits, err := buildLimits(cfg, rt.Accounts)
	if err != nil {
		return nil, err
	}
	switch cfg.QuotaBackend {
	case "postgres":
		rt.Ledger = repo.NewQuotaLedger(sql, limits)
	case "redis":
		client, rerr := quota.NewRedisClient(ctx, cfg.RedisURL)
		if rerr != nil {
			return nil, rerr
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		rt.Ledger = quota.NewRedisLedger(client, limits, 0)
	default:
		rt.Ledger = quota.NewMemoryLedger(limits)
	}

	var store storage.Store
	switch cfg.StorageBackend {
	case "s3":
		s3, serr := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.StorageBaseURL)
		if serr != nil {
			return nil, serr
		}
		store = s3
	default:
		fs, ferr := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if ferr != nil {
			return nil, ferr
		}
		rt.StaticDir = fs.BasePath()
		store = fs
	}

	hashOpts := []phash.Option{phash.WithLogger(logger)}
	if sql != nil {
		hashOpts = append(hashOpts, phash.WithRepository(repo.NewFingerprintRepository(sql)))
	}
	hashes := phash.NewStore(cfg.DedupeThreshold, hashOpts...)
	if err := hashes.Warm(ctx); err != nil {
		return nil, fmt.Errorf("warm fingerprints: %w", err)
	}

	var creds *credentials.Store
	if sql != nil {
		creds = credentials.NewStore(sql)
	}
	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	nutritionKey, err := creds.Resolve(ctx, credentials.ProviderNutrition, cfg.NutritionAPIKey)
	if err != nil {
		return nil, err
	}
	gemini := genai.NewClient(genai.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		ImageModel: cfg.GeminiImageModel,
		Logger:     logger,
	})
	if gemini.Synthetic() {
		logger.Warn().Msg("bootstrap: no gemini key configured, using synthetic content")
	}
	scorer := nutrition.NewClient(nutrition.Options{
		BaseURL: cfg.NutritionBaseURL,
		APIKey:  nutritionKey,
		Timeout: cfg.AdapterTimeout,
		Logger:  logger,
	})

	rt.Tracker = progress.NewTracker(0)
	rt.Snapshotter = progress.NewSnapshotter(rt.Tracker, rt.Jobs, cfg.SnapshotEvery, trackerRetention, logger)
	rt.Orchestrator = pipeline.New(pipeline.ConfigFromInfra(cfg), pipeline.Deps{
		Jobs:      rt.Jobs,
		Results:   results,
		Ledger:    rt.Ledger,
		Hashes:    hashes,
		Tracker:   rt.Tracker,
		Storage:   store,
		Concepts:  gemini,
		Nutrition: scorer,
		Images:    gemini,
		Logger:    logger,
	})
	return rt, nil
}

func buildLimits(cfg *infra.Config, accounts domain.AccountRepository) (quota.Limits, error) {
	catalog, err := quota.LoadTierCatalog(cfg.TiersFile)
	if err != nil {
		return quota.Limits{}, err
	}
	if tier := domain.Tier(cfg.DefaultTier); tier != "" && catalog.Has(tier) {
		catalog.DefaultTier = tier
	}
	static := quota.StaticResolver{Catalog: catalog}
	if accounts == nil {
		return quota.NewLimits(catalog, static), nil
	}
	return quota.NewLimits(catalog, quota.RepositoryResolver{Accounts: accounts, Fallback: static}), nil
}

// Close releases backends in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
