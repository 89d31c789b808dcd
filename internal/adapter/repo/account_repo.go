package repo

import (
	"context"
	"fmt"
	"strings"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/sqlinline"
)

// AccountRepositoryPG reads and writes account tiers.
type AccountRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAccountRepository(sql infra.SQLExecutor) *AccountRepositoryPG {
	return &AccountRepositoryPG{sql: sql}
}

func (r *AccountRepositoryPG) GetTier(ctx context.Context, accountID string) (domain.Tier, error) {
	var tier string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectAccountTier, accountID).Scan(&tier); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.Tier(tier), nil
}

func (r *AccountRepositoryPG) SetTier(ctx context.Context, accountID string, tier domain.Tier) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(string(tier)) == "" {
		return fmt.Errorf("%w: tier is required", domain.ErrUnsupportedTier)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QUpsertAccountTier, accountID, string(tier)); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

var _ domain.AccountRepository = (*AccountRepositoryPG)(nil)
