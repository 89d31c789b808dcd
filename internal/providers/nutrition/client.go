// Package nutrition scores drafted recipes. A remote scoring service is used
// when configured; otherwise a local estimator derives macros from a small
// ingredient table.
package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mealgen/internal/domain"
	"mealgen/internal/domain/jsoncfg"
	"mealgen/internal/external"
	"mealgen/internal/infra"
)

// Options configures the scoring client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  infra.Logger
}

// Request is one concept to score against the requested constraints.
type Request struct {
	TaskID      string
	Concept     domain.ConceptPayload
	Constraints jsoncfg.MealConstraints
}

// Client talks to the scoring service.
type Client struct {
	http   *resty.Client
	remote bool
	logger infra.Logger
}

type scoreRequest struct {
	Title       string              `json:"title"`
	Servings    int                 `json:"servings"`
	Ingredients []domain.Ingredient `json:"ingredients"`
	DietaryTags []string            `json:"dietary_tags,omitempty"`
	CaloriesMin int                 `json:"calories_min,omitempty"`
	CaloriesMax int                 `json:"calories_max,omitempty"`
}

type scoreResponse struct {
	PerServing struct {
		Calories *float64 `json:"calories"`
		Protein  float64  `json:"protein_g"`
		Carbs    float64  `json:"carbs_g"`
		Fat      float64  `json:"fat_g"`
	} `json:"per_serving"`
	Score    float64  `json:"score"`
	Approved bool     `json:"approved"`
	Notes    []string `json:"notes"`
}

// NewClient builds a client. An empty BaseURL selects the local estimator.
func NewClient(opts Options) *Client {
	// No resty retries: the pipeline retry policy owns retrying.
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		client.SetHeader("X-API-Key", key)
	}
	return &Client{
		http:   client,
		remote: strings.TrimSpace(opts.BaseURL) != "",
		logger: infra.Component(opts.Logger, "nutrition"),
	}
}

// Remote reports whether a scoring service is configured.
func (c *Client) Remote() bool { return c.remote }

// Score returns the nutrition validation of a concept.
func (c *Client) Score(ctx context.Context, req Request) (domain.ValidationPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.ValidationPayload{}, err
	}
	if !c.remote {
		return Estimate(req.Concept, req.Constraints), nil
	}

	body := scoreRequest{
		Title:       req.Concept.Title,
		Servings:    req.Concept.Servings,
		Ingredients: req.Concept.Ingredients,
		DietaryTags: req.Constraints.DietaryTags,
		CaloriesMin: req.Constraints.CaloriesMin,
		CaloriesMax: req.Constraints.CaloriesMax,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/score")
	if err != nil {
		return domain.ValidationPayload{}, fmt.Errorf("call nutrition service: %w", err)
	}
	if resp.IsError() {
		return domain.ValidationPayload{}, &external.StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}

	var out scoreResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return domain.ValidationPayload{}, fmt.Errorf("%w: nutrition response: %v", external.ErrMalformedResponse, err)
	}
	if out.PerServing.Calories == nil {
		return domain.ValidationPayload{}, fmt.Errorf("%w: nutrition response without calories", external.ErrMalformedResponse)
	}

	c.logger.Debug().
		Str("task_id", req.TaskID).
		Float64("score", out.Score).
		Bool("approved", out.Approved).
		Msg("nutrition: scored remotely")

	return domain.ValidationPayload{
		Calories: *out.PerServing.Calories,
		Protein:  out.PerServing.Protein,
		Carbs:    out.PerServing.Carbs,
		Fat:      out.PerServing.Fat,
		Score:    clamp01(out.Score),
		Approved: out.Approved,
		Notes:    out.Notes,
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
