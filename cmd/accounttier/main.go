package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mealgen/internal/adapter/repo"
	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/quota"
)

func main() {
	var (
		accountFlag string
		tierFlag    string
		tiersFile   string
	)
	flag.StringVar(&accountFlag, "account", "", "account ID to update")
	flag.StringVar(&tierFlag, "tier", string(domain.TierPro), "tier to assign")
	flag.StringVar(&tiersFile, "tiers", os.Getenv("TIERS_FILE"), "tier catalog YAML (defaults to the built-in catalog)")
	flag.Parse()

	accountID := strings.TrimSpace(accountFlag)
	tier := domain.Tier(strings.TrimSpace(strings.ToLower(tierFlag)))
	if accountID == "" {
		exitWithError(errors.New("-account is required"))
	}

	catalog, err := quota.LoadTierCatalog(tiersFile)
	if err != nil {
		exitWithError(err)
	}
	if !catalog.Has(tier) {
		exitWithError(fmt.Errorf("unsupported tier %q", tier))
	}
	limit, err := catalog.LimitFor(tier, domain.ResourceRecipeGeneration)
	if err != nil {
		exitWithError(err)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "accounttier").Logger()
	accounts := repo.NewAccountRepository(infra.NewSQLRunner(pool, logger))

	previous, err := accounts.GetTier(ctx, accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		exitWithError(fmt.Errorf("failed to load account: %w", err))
	}
	if err := accounts.SetTier(ctx, accountID, tier); err != nil {
		exitWithError(fmt.Errorf("failed to update account tier: %w", err))
	}

	if previous == "" {
		previous = catalog.DefaultTier
	}
	fmt.Printf("Account %s updated from %s to %s\n", accountID, previous, tier)
	fmt.Printf("monthly_recipe_limit=%d\n", limit)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
