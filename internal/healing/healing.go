// Package healing repairs what a crash or a degraded provider left behind:
// it resumes jobs that stopped making progress and re-renders images of
// tasks that finished with the placeholder.
package healing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/metrics"
)

// Orchestrator is the part of the pipeline healing drives.
type Orchestrator interface {
	Resume(ctx context.Context, job *domain.Job) error
	RegenerateImage(ctx context.Context, ref domain.TaskRef) error
	Running(jobID string) bool
}

// Config controls the sweep.
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor such as "@every 5m".
	Schedule string
	// StaleAfter is how long a non-terminal job may go without updates.
	StaleAfter time.Duration
	Batch      int
	// Regenerate enables placeholder re-rendering.
	Regenerate bool
}

// ConfigFromInfra maps the environment configuration onto the sweep.
func ConfigFromInfra(cfg *infra.Config) Config {
	return Config{
		Schedule:   cfg.HealingSchedule,
		StaleAfter: cfg.HealingStaleAfter,
		Batch:      cfg.HealingBatch,
		Regenerate: cfg.HealingRegenerate,
	}
}

// Report summarizes one sweep.
type Report struct {
	Resumed          int
	ResumeFailed     int
	Regenerated      int
	RegenerateFailed int
}

type Healer struct {
	cfg    Config
	jobs   domain.JobStore
	orch   Orchestrator
	logger infra.Logger
	now    func() time.Time
	cron   *cron.Cron
}

func New(cfg Config, jobs domain.JobStore, orch Orchestrator, logger infra.Logger) *Healer {
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Healer{
		cfg:    cfg,
		jobs:   jobs,
		orch:   orch,
		logger: infra.Component(logger, "healing"),
		now:    time.Now,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep. Sweeps never overlap; a run that is still busy
// when the next tick fires makes that tick a no-op.
func (h *Healer) Start(ctx context.Context) error {
	if _, err := h.cron.AddFunc(h.cfg.Schedule, func() { h.Sweep(ctx) }); err != nil {
		return fmt.Errorf("healing schedule %q: %w", h.cfg.Schedule, err)
	}
	h.cron.Start()
	h.logger.Info().Str("schedule", h.cfg.Schedule).Msg("healing: scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (h *Healer) Stop() {
	<-h.cron.Stop().Done()
}

// Sweep runs both repairs once.
func (h *Healer) Sweep(ctx context.Context) Report {
	var r Report
	r.Resumed, r.ResumeFailed = h.ResumeStale(ctx)
	if h.cfg.Regenerate {
		r.Regenerated, r.RegenerateFailed = h.RegeneratePlaceholders(ctx)
	}
	h.logger.Info().
		Int("resumed", r.Resumed).
		Int("resume_failed", r.ResumeFailed).
		Int("regenerated", r.Regenerated).
		Int("regenerate_failed", r.RegenerateFailed).
		Msg("healing: sweep finished")
	return r
}

// ResumeStale hands non-terminal jobs that stopped making progress back to
// the orchestrator.
func (h *Healer) ResumeStale(ctx context.Context) (resumed, failed int) {
	jobs, err := h.jobs.ListUnfinished(ctx, h.now().Add(-h.cfg.StaleAfter), h.cfg.Batch)
	if err != nil {
		metrics.HealingRuns.WithLabelValues("resume", "error").Inc()
		h.logger.Error().Err(err).Msg("healing: list unfinished jobs failed")
		return 0, 1
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if h.orch.Running(job.ID) {
			continue
		}
		err := h.orch.Resume(ctx, job)
		switch {
		case err == nil:
			resumed++
			metrics.HealingRuns.WithLabelValues("resume", "ok").Inc()
		case errors.Is(err, domain.ErrJobTerminal):
			metrics.HealingRuns.WithLabelValues("resume", "skipped").Inc()
		default:
			failed++
			metrics.HealingRuns.WithLabelValues("resume", "error").Inc()
			h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("healing: resume failed")
		}
	}
	return resumed, failed
}

// RegeneratePlaceholders re-renders images for finished tasks that carry the
// placeholder. A concurrent regeneration of the same task is harmless: the
// result upsert is keyed by task id and the last writer wins.
func (h *Healer) RegeneratePlaceholders(ctx context.Context) (regenerated, failed int) {
	refs, err := h.jobs.ListPlaceholderTasks(ctx, h.cfg.Batch)
	if err != nil {
		metrics.HealingRuns.WithLabelValues("regenerate", "error").Inc()
		h.logger.Error().Err(err).Msg("healing: list placeholder tasks failed")
		return 0, 1
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if err := h.orch.RegenerateImage(ctx, ref); err != nil {
			failed++
			metrics.HealingRuns.WithLabelValues("regenerate", "error").Inc()
			h.logger.Warn().Err(err).Str("job_id", ref.JobID).Str("task_id", ref.TaskID).Msg("healing: regenerate failed")
			continue
		}
		regenerated++
		metrics.HealingRuns.WithLabelValues("regenerate", "ok").Inc()
	}
	return regenerated, failed
}
