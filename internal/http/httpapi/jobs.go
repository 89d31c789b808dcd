package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mealgen/internal/domain"
	"mealgen/internal/middleware"
	"mealgen/internal/quota"
)

type submitRequest struct {
	ItemCount   int            `json:"item_count"`
	Constraints map[string]any `json:"constraints"`
}

type jobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type quotaExceededResponse struct {
	errorResponse
	Limit    int `json:"limit"`
	Used     int `json:"used"`
	Reserved int `json:"reserved"`
}

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing "+middleware.AccountHeader)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Constraints == nil {
		req.Constraints = map[string]any{}
	}
	if _, ok := req.Constraints["locale"]; !ok {
		req.Constraints["locale"] = middleware.LocaleFromContext(r.Context())
	}

	snap, err := a.Jobs.Submit(r.Context(), domain.GenerationRequest{
		AccountID:   accountID,
		ItemCount:   req.ItemCount,
		Constraints: req.Constraints,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		var qe *quota.QuotaExceededError
		switch {
		case errors.As(err, &qe):
			a.json(w, http.StatusTooManyRequests, quotaExceededResponse{
				errorResponse: errorResponse{Error: "quota_exceeded", Message: "monthly recipe quota exceeded"},
				Limit:         qe.Limit,
				Used:          qe.Used,
				Reserved:      qe.Reserved,
			})
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrUnsupportedTier):
			a.error(w, http.StatusForbidden, "unsupported_tier", err.Error())
		case errors.Is(err, domain.ErrShuttingDown):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		default:
			a.Logger.Error().Err(err).Str("account_id", accountID).Msg("api: submit failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: snap.JobID, Status: snap.Status})
}

// ownedSnapshot loads a snapshot and hides jobs of other accounts.
func (a *App) ownedSnapshot(w http.ResponseWriter, r *http.Request) (domain.JobSnapshot, bool) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing "+middleware.AccountHeader)
		return domain.JobSnapshot{}, false
	}
	jobID := chi.URLParam(r, "job_id")
	snap, err := a.Jobs.Snapshot(r.Context(), jobID)
	if err != nil || snap.AccountID != accountID {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: load job failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
			return domain.JobSnapshot{}, false
		}
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return domain.JobSnapshot{}, false
	}
	return snap, true
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.ownedSnapshot(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, snap)
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.ownedSnapshot(w, r)
	if !ok {
		return
	}
	err := a.Jobs.Cancel(r.Context(), snap.JobID)
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, jobResponse{JobID: snap.JobID, Status: domain.JobStatusCancelled})
	case errors.Is(err, domain.ErrJobTerminal):
		a.error(w, http.StatusConflict, "conflict", "job already finished")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	default:
		a.Logger.Error().Err(err).Str("job_id", snap.JobID).Msg("api: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
	}
}

func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing "+middleware.AccountHeader)
		return
	}
	rec, err := a.Usage.Usage(r.Context(), accountID, domain.ResourceRecipeGeneration)
	if err != nil {
		a.Logger.Error().Err(err).Str("account_id", accountID).Msg("api: quota usage failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load quota")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"period":    rec.PeriodKey,
		"limit":     rec.Limit,
		"used":      rec.Used,
		"reserved":  rec.Reserved,
		"remaining": rec.Remaining(),
	})
}
