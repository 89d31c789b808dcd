package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/sqlinline"
)

// RecipeRepositoryPG is the result store of the persist stage.
type RecipeRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewRecipeRepository(sql infra.SQLExecutor) *RecipeRepositoryPG {
	return &RecipeRepositoryPG{sql: sql}
}

// Save upserts by task id and returns the stable record id.
func (r *RecipeRepositoryPG) Save(ctx context.Context, result domain.TaskResult) (string, error) {
	if strings.TrimSpace(result.TaskID) == "" {
		return "", fmt.Errorf("%w: task id is required", domain.ErrInvalidRequest)
	}
	concept, err := json.Marshal(result.Concept)
	if err != nil {
		return "", fmt.Errorf("encode concept: %w", err)
	}
	nutrition, err := json.Marshal(result.Nutrition)
	if err != nil {
		return "", fmt.Errorf("encode nutrition: %w", err)
	}
	var id string
	err = r.sql.QueryRow(ctx, sqlinline.QUpsertRecipe,
		result.TaskID,
		result.JobID,
		result.AccountID,
		result.Concept.Title,
		concept,
		nutrition,
		result.ImageURL,
		result.Placeholder,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert recipe: %w", err)
	}
	return id, nil
}

func (r *RecipeRepositoryPG) Get(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	var (
		res       domain.TaskResult
		concept   []byte
		nutrition []byte
	)
	err := r.sql.QueryRow(ctx, sqlinline.QSelectRecipeByTask, taskID).Scan(
		&res.TaskID,
		&res.JobID,
		&res.AccountID,
		&concept,
		&nutrition,
		&res.ImageURL,
		&res.Placeholder,
		&res.SavedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(concept, &res.Concept); err != nil {
		return nil, fmt.Errorf("decode concept: %w", err)
	}
	if len(nutrition) > 0 {
		if err := json.Unmarshal(nutrition, &res.Nutrition); err != nil {
			return nil, fmt.Errorf("decode nutrition: %w", err)
		}
	}
	return &res, nil
}

var _ domain.ResultStore = (*RecipeRepositoryPG)(nil)
