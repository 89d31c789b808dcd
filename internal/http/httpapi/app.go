package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"mealgen/internal/breaker"
	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/middleware"
	"mealgen/internal/quota"
)

// JobService is the orchestrator surface the API exposes.
type JobService interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobSnapshot, error)
	Snapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error)
	Cancel(ctx context.Context, jobID string) error
}

// ProgressSource streams live snapshots.
type ProgressSource interface {
	Subscribe(jobID string) (<-chan domain.JobSnapshot, func(), error)
}

// UsageReader reports quota usage.
type UsageReader interface {
	Usage(ctx context.Context, accountID string, kind domain.ResourceKind) (quota.Record, error)
}

// BreakerSource reports dependency health.
type BreakerSource interface {
	Snapshots() []breaker.CircuitState
}

type App struct {
	Jobs     JobService
	Progress ProgressSource
	Usage    UsageReader
	Breakers BreakerSource
	Logger   infra.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

func (a *App) currentAccountID(r *http.Request) string {
	return middleware.AccountFromContext(r.Context())
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	type dependency struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	status := "ok"
	deps := []dependency{}
	if a.Breakers != nil {
		for _, cs := range a.Breakers.Snapshots() {
			if cs.State != breaker.StateClosed {
				status = "degraded"
			}
			deps = append(deps, dependency{Name: cs.Name, State: cs.State.String()})
		}
	}
	a.json(w, http.StatusOK, map[string]any{"status": status, "dependencies": deps})
}
