package domain

import (
	"fmt"
	"strings"
	"time"

	"mealgen/internal/domain/jsoncfg"
)

// GenerationRequest is the immutable input of a job.
type GenerationRequest struct {
	AccountID   string
	ItemCount   int
	Constraints map[string]any
	RequestedAt time.Time
}

// Validate checks the request against the item cap and returns the
// normalized constraints. It never touches quota.
func (r GenerationRequest) Validate(maxItems int) (jsoncfg.MealConstraints, error) {
	if strings.TrimSpace(r.AccountID) == "" {
		return jsoncfg.MealConstraints{}, fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	if r.ItemCount < 1 || (maxItems > 0 && r.ItemCount > maxItems) {
		return jsoncfg.MealConstraints{}, fmt.Errorf("%w: item count must be between 1 and %d", ErrInvalidRequest, maxItems)
	}
	constraints, err := jsoncfg.ParseConstraints(r.Constraints)
	if err != nil {
		return constraints, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	locale, _ := r.Constraints["locale"].(string)
	constraints.Normalize(locale)
	if err := constraints.Validate(); err != nil {
		return constraints, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return constraints, nil
}

// TaskResult is what the persist stage stores for a finished task.
type TaskResult struct {
	TaskID      string            `json:"task_id"`
	JobID       string            `json:"job_id"`
	AccountID   string            `json:"account_id"`
	Concept     ConceptPayload    `json:"concept"`
	Nutrition   ValidationPayload `json:"nutrition"`
	ImageURL    string            `json:"image_url"`
	Placeholder bool              `json:"placeholder"`
	SavedAt     time.Time         `json:"saved_at"`
}

// TaskRef points at a task inside a job.
type TaskRef struct {
	JobID     string
	TaskID    string
	AccountID string
}
