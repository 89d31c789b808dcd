// Package pipeline turns generation requests into jobs and drives every
// item task through the ordered stages under a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mealgen/internal/breaker"
	"mealgen/internal/domain"
	"mealgen/internal/domain/jsoncfg"
	"mealgen/internal/external"
	"mealgen/internal/infra"
	"mealgen/internal/metrics"
	"mealgen/internal/phash"
	"mealgen/internal/progress"
	"mealgen/internal/quota"
	"mealgen/internal/storage"
)

// Orchestrator owns running jobs until they reach a terminal status.
type Orchestrator struct {
	cfg      Config
	jobs     domain.JobStore
	results  domain.ResultStore
	ledger   quota.Ledger
	hashes   *phash.Store
	tracker  *progress.Tracker
	storage  storage.Store
	adapters adapters
	breakers *breaker.Registry
	logger   infra.Logger
	now      func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]*jobRun
	closed  bool
}

type jobRun struct {
	id          string
	accountID   string
	constraints jsoncfg.MealConstraints
	res         quota.Reservation
	tasks       []*domain.ItemTask
	done        chan struct{}

	mu        sync.Mutex
	cancelled bool
	finished  bool
}

func (jr *jobRun) isCancelled() bool {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	return jr.cancelled
}

// New wires an orchestrator. Breakers are created per adapter kind on first use.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		jobs:     deps.Jobs,
		results:  deps.Results,
		ledger:   deps.Ledger,
		hashes:   deps.Hashes,
		tracker:  deps.Tracker,
		storage:  deps.Storage,
		adapters: newAdapters(cfg, deps),
		logger:   infra.Component(deps.Logger, "pipeline"),
		now:      time.Now,
		baseCtx:  ctx,
		stop:     stop,
		running:  make(map[string]*jobRun),
	}
	opts := append([]breaker.Option{breaker.WithStateChange(o.onBreakerChange)}, deps.BreakerOptions...)
	o.breakers = breaker.NewRegistry(cfg.Breaker, opts...)
	return o
}

// Breakers exposes the per-adapter breakers for health reporting.
func (o *Orchestrator) Breakers() *breaker.Registry { return o.breakers }

// Submit validates the request, reserves quota for every item and starts
// the job. Quota rejections surface as *quota.QuotaExceededError before any
// task exists.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobSnapshot, error) {
	constraints, err := req.Validate(o.cfg.MaxItems)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	if o.isClosed() {
		return domain.JobSnapshot{}, domain.ErrShuttingDown
	}

	res, err := o.ledger.TryReserve(ctx, req.AccountID, domain.ResourceRecipeGeneration, req.ItemCount)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			metrics.QuotaRejections.WithLabelValues(string(domain.ResourceRecipeGeneration)).Inc()
		}
		return domain.JobSnapshot{}, err
	}

	now := o.now().UTC()
	created := res.CreatedAt
	if created.IsZero() {
		created = now
	}
	job := &domain.Job{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		Status:        domain.JobStatusPending,
		Constraints:   constraints.Map(),
		ReservationID: res.ID,
		CreatedAt:     created,
		UpdatedAt:     now,
	}
	for i := 0; i < req.ItemCount; i++ {
		task := domain.NewItemTask(job.ID, i)
		task.UpdatedAt = now
		job.Tasks = append(job.Tasks, task)
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		if rerr := o.ledger.Release(ctx, res, res.Amount); rerr != nil {
			o.logger.Error().Err(rerr).Str("reservation_id", res.ID).Msg("pipeline: release after failed create")
		}
		return domain.JobSnapshot{}, fmt.Errorf("create job: %w", err)
	}

	o.logger.Info().Str("job_id", job.ID).Str("account_id", job.AccountID).Int("items", req.ItemCount).Msg("pipeline: job accepted")
	return o.start(job, constraints, res)
}

// Resume re-drives the unfinished tasks of a stored job, e.g. after a
// restart. Completed stage payloads are reused. Resuming a job that is
// already running is a no-op.
func (o *Orchestrator) Resume(ctx context.Context, job *domain.Job) error {
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	constraints, err := jsoncfg.ParseConstraints(job.Constraints)
	if err != nil {
		return fmt.Errorf("resume %s: %w", job.ID, err)
	}
	constraints.Normalize("")
	res := reservationFor(job)
	o.logger.Info().Str("job_id", job.ID).Msg("pipeline: resuming job")
	_, err = o.start(job, constraints, res)
	return err
}

func reservationFor(job *domain.Job) quota.Reservation {
	return quota.Reservation{
		ID:        job.ReservationID,
		AccountID: job.AccountID,
		Kind:      domain.ResourceRecipeGeneration,
		PeriodKey: quota.PeriodKey(job.CreatedAt),
		Amount:    len(job.Tasks),
		CreatedAt: job.CreatedAt,
	}
}

func (o *Orchestrator) start(job *domain.Job, constraints jsoncfg.MealConstraints, res quota.Reservation) (domain.JobSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.JobSnapshot{}, domain.ErrShuttingDown
	}
	if _, ok := o.running[job.ID]; ok {
		snap, _ := o.tracker.Snapshot(job.ID)
		return snap, nil
	}
	jr := &jobRun{
		id:          job.ID,
		accountID:   job.AccountID,
		constraints: constraints,
		res:         res,
		tasks:       job.Tasks,
		done:        make(chan struct{}),
	}
	o.running[job.ID] = jr

	snap := o.tracker.Register(job)
	for _, name := range o.breakers.Degraded() {
		if next, err := o.tracker.Update(job.ID, progress.Delta{Degraded: name}); err == nil {
			snap = next
		}
	}

	o.wg.Add(1)
	go o.runJob(jr)
	return snap, nil
}

func (o *Orchestrator) runJob(jr *jobRun) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.running, jr.id)
		o.mu.Unlock()
		close(jr.done)
	}()

	ctx := o.baseCtx
	jr.mu.Lock()
	if !jr.cancelled {
		o.setStatus(jr.id, domain.JobStatusRunning, nil)
	}
	jr.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)
	for _, task := range jr.tasks {
		if task.Terminal() {
			continue
		}
		task := task
		g.Go(func() error {
			o.runTask(ctx, jr, task)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		o.logger.Info().Str("job_id", jr.id).Msg("pipeline: job interrupted, left for healing")
		return
	}
	o.finish(jr)
}

func (o *Orchestrator) finish(jr *jobRun) {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	status := domain.AggregateStatus(jr.tasks)
	if jr.cancelled {
		status = domain.JobStatusCancelled
	}
	completed := o.now().UTC()
	o.setStatus(jr.id, status, &completed)
	jr.finished = true
	metrics.JobTotal.WithLabelValues(string(status)).Inc()
	o.logger.Info().Str("job_id", jr.id).Str("status", string(status)).Msg("pipeline: job finished")
}

func (o *Orchestrator) setStatus(jobID string, status domain.JobStatus, completedAt *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.jobs.UpdateJobStatus(ctx, jobID, status, completedAt); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("pipeline: update job status failed")
	}
	if _, err := o.tracker.Update(jobID, progress.Delta{Status: status}); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: publish status failed")
	}
}

func (o *Orchestrator) runTask(ctx context.Context, jr *jobRun, task *domain.ItemTask) {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	o.drive(ctx, &taskRun{o: o, job: jr, task: task})
}

// drive advances a task from wherever it stopped to a terminal outcome. It
// returns early without an outcome only when the orchestrator shuts down.
func (o *Orchestrator) drive(ctx context.Context, tr *taskRun) {
	task := tr.task
	if o.halted(ctx, tr) {
		return
	}

	concept, ok := reuse[domain.ConceptPayload](task, domain.StageConcept)
	if !ok {
		var err error
		concept, err = runStage(ctx, o, tr, domain.StageConcept, external.KindConcept, o.adapters.concept, conceptRequest(tr), nil)
		if err != nil {
			if ctx.Err() == nil {
				o.fail(tr, domain.StageConcept, err)
			}
			return
		}
	}
	if o.halted(ctx, tr) {
		return
	}

	score, ok := reuse[domain.ValidationPayload](task, domain.StageValidation)
	if !ok {
		var err error
		score, err = runStage(ctx, o, tr, domain.StageValidation, external.KindNutrition, o.adapters.nutrition, nutritionRequest(tr, concept), approved)
		if err != nil {
			if ctx.Err() == nil {
				o.fail(tr, domain.StageValidation, err)
			}
			return
		}
	}
	if o.halted(ctx, tr) {
		return
	}

	stored, ok := reuse[domain.StoragePayload](task, domain.StageStorage)
	var degradeStage domain.StageName
	var degradeErr error
	if !ok {
		var err error
		stored, err = o.storeImage(ctx, tr, concept, 0)
		switch {
		case errors.Is(err, errHalted):
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			degradeStage, degradeErr = task.CurrentStage, err
			stored = o.placeholder(tr, err)
		}
	}
	if o.halted(ctx, tr) {
		o.discard(tr, stored)
		return
	}

	rec, err := runStage(ctx, o, tr, domain.StagePersist, external.KindPersist, o.adapters.persist, taskResult(tr, concept, score, stored), nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.discard(tr, stored)
		o.fail(tr, domain.StagePersist, err)
		return
	}

	outcome := domain.TaskOutcomeSuccess
	if stored.Placeholder {
		outcome = domain.TaskOutcomeSuccessWithPlaceholder
	}
	task.ImageURL = stored.URL
	task.RecordID = rec.RecordID
	task.CurrentStage = domain.StageDone
	task.Outcome = outcome
	delta := progress.Delta{TaskID: task.ID, Outcome: outcome}
	if degradeErr != nil {
		task.Error = degradeErr.Error()
		delta.Err, delta.ErrStage = task.Error, degradeStage
	}
	tr.save()
	o.settle(tr.job, true)
	tr.update(delta)
}

var errHalted = errors.New("task halted")

// storeImage renders, dedupes and stores one image variant. Any error other
// than errHalted means the placeholder applies.
func (o *Orchestrator) storeImage(ctx context.Context, tr *taskRun, concept domain.ConceptPayload, variant int) (domain.StoragePayload, error) {
	task := tr.task
	img, err := runStage(ctx, o, tr, domain.StageImage, external.KindImage, o.adapters.image, imageRequest(tr, concept, variant), nil)
	if err != nil {
		return domain.StoragePayload{}, err
	}
	if o.halted(ctx, tr) {
		return domain.StoragePayload{}, errHalted
	}

	tr.enter(domain.StageDedupe)
	scope := o.cfg.DedupeScope.ScopeFor(tr.job.accountID)
	dec, err := o.hashes.Record(ctx, scope, task.ID, img.Data)
	verdict := domain.DedupePayload{
		Hash:          fmt.Sprintf("%016x", dec.Hash),
		Accepted:      dec.Accepted,
		MatchedTaskID: dec.MatchedTaskID,
		Distance:      dec.Distance,
	}
	recordLocal(tr, verdict, err)
	if err != nil {
		return domain.StoragePayload{}, fmt.Errorf("dedupe: %w", err)
	}
	if !dec.Accepted {
		metrics.DedupeRejections.WithLabelValues(string(o.cfg.DedupeScope)).Inc()
		return domain.StoragePayload{}, fmt.Errorf("dedupe: near duplicate of %s (distance %d)", dec.MatchedTaskID, dec.Distance)
	}
	if o.halted(ctx, tr) {
		o.forget(tr)
		return domain.StoragePayload{}, errHalted
	}

	in := storeInput{Key: tr.storageKey(img, variant), Data: img.Data, ContentType: img.MIME}
	stored, err := runStage(ctx, o, tr, domain.StageStorage, external.KindStorage, o.adapters.storage, in, nil)
	if err != nil {
		o.forget(tr)
		return domain.StoragePayload{}, err
	}
	return stored, nil
}

// placeholder records the fallback image for a task whose image path failed.
func (o *Orchestrator) placeholder(tr *taskRun, cause error) domain.StoragePayload {
	p := domain.StoragePayload{URL: o.cfg.PlaceholderURL, Placeholder: true}
	recordLocal(tr, p, nil)
	o.logger.Info().Err(cause).Str("job_id", tr.job.id).Str("task_id", tr.task.ID).Msg("pipeline: using placeholder image")
	return p
}

// halted checks the stage boundary. A cancelled job finalizes the task as
// Cancelled; shutdown leaves it untouched for healing.
func (o *Orchestrator) halted(ctx context.Context, tr *taskRun) bool {
	if ctx.Err() != nil {
		return true
	}
	if !tr.job.isCancelled() {
		return false
	}
	tr.task.Outcome = domain.TaskOutcomeCancelled
	tr.save()
	o.settle(tr.job, false)
	tr.update(progress.Delta{TaskID: tr.task.ID, Outcome: domain.TaskOutcomeCancelled})
	return true
}

func (o *Orchestrator) fail(tr *taskRun, stage domain.StageName, err error) {
	tr.task.Outcome = domain.TaskOutcomeFailed
	tr.task.Error = err.Error()
	tr.save()
	o.settle(tr.job, false)
	tr.update(progress.Delta{TaskID: tr.task.ID, Outcome: domain.TaskOutcomeFailed, Err: tr.task.Error, ErrStage: stage})
	o.logger.Warn().Err(err).Str("job_id", tr.job.id).Str("task_id", tr.task.ID).Str("stage", string(stage)).Msg("pipeline: task failed")
}

// discard undoes the side effects of an image that will not be persisted.
func (o *Orchestrator) discard(tr *taskRun, stored domain.StoragePayload) {
	if stored.Placeholder {
		return
	}
	o.forget(tr)
	if stored.Key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.storage.Delete(ctx, stored.Key); err != nil {
		o.logger.Warn().Err(err).Str("task_id", tr.task.ID).Str("key", stored.Key).Msg("pipeline: delete orphaned image failed")
	}
}

func (o *Orchestrator) forget(tr *taskRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scope := o.cfg.DedupeScope.ScopeFor(tr.job.accountID)
	if err := o.hashes.Forget(ctx, scope, tr.task.ID); err != nil {
		o.logger.Warn().Err(err).Str("task_id", tr.task.ID).Msg("pipeline: forget fingerprint failed")
	}
}

// settle commits or releases the task's unit of the job reservation.
func (o *Orchestrator) settle(jr *jobRun, commit bool) {
	if jr.res.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if commit {
		err = o.ledger.Commit(ctx, jr.res, 1)
	} else {
		err = o.ledger.Release(ctx, jr.res, 1)
	}
	switch {
	case err == nil:
	case errors.Is(err, quota.ErrUnknownReservation), errors.Is(err, quota.ErrOverSettle):
		// A resumed job may settle units that were settled before the restart.
		o.logger.Debug().Err(err).Str("job_id", jr.id).Msg("pipeline: reservation already settled")
	default:
		o.logger.Error().Err(err).Str("job_id", jr.id).Bool("commit", commit).Msg("pipeline: settle quota failed")
	}
}

// Cancel stops a job cooperatively. In-flight stages finish, no new stage
// starts and unfinished units are released. The stored and published status
// flip to Cancelled immediately; the terminal snapshot follows once the
// in-flight stages have drained.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	jr, running := o.running[jobID]
	o.mu.Unlock()
	if running {
		jr.mu.Lock()
		defer jr.mu.Unlock()
		if jr.finished {
			return domain.ErrJobTerminal
		}
		if jr.cancelled {
			return nil
		}
		jr.cancelled = true
		if err := o.jobs.UpdateJobStatus(ctx, jobID, domain.JobStatusCancelled, nil); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		delta := progress.Delta{Status: domain.JobStatusCancelled, Draining: true}
		if _, err := o.tracker.Update(jobID, delta); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: publish cancel failed")
		}
		o.logger.Info().Str("job_id", jobID).Msg("pipeline: job cancelled")
		return nil
	}

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	// A Cancelled job without completion time was acknowledged but never
	// drained, e.g. because the process stopped in between.
	if job.Status.Terminal() && !(job.Status == domain.JobStatusCancelled && job.CompletedAt == nil) {
		return domain.ErrJobTerminal
	}
	now := o.now().UTC()
	pending := 0
	for _, task := range job.Tasks {
		if task.Terminal() {
			continue
		}
		task.Outcome = domain.TaskOutcomeCancelled
		task.UpdatedAt = now
		if err := o.jobs.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("cancel task %s: %w", task.ID, err)
		}
		pending++
	}
	if pending > 0 && job.ReservationID != "" {
		if err := o.ledger.Release(ctx, reservationFor(job), pending); err != nil && !errors.Is(err, quota.ErrUnknownReservation) && !errors.Is(err, quota.ErrOverSettle) {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("pipeline: release on cancel failed")
		}
	}
	if err := o.jobs.UpdateJobStatus(ctx, jobID, domain.JobStatusCancelled, &now); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if _, err := o.tracker.Update(jobID, progress.Delta{Status: domain.JobStatusCancelled}); err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrJobTerminal) {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: publish cancel failed")
	}
	metrics.JobTotal.WithLabelValues(string(domain.JobStatusCancelled)).Inc()
	o.logger.Info().Str("job_id", jobID).Int("released", pending).Msg("pipeline: idle job cancelled")
	return nil
}

// RegenerateImage re-renders the image of a task that finished with the
// placeholder. No quota is charged. On failure the placeholder stays and the
// task moves to the back of the placeholder listing.
func (o *Orchestrator) RegenerateImage(ctx context.Context, ref domain.TaskRef) error {
	o.mu.Lock()
	_, running := o.running[ref.JobID]
	o.mu.Unlock()
	if running {
		return fmt.Errorf("%w: job %s is still running", domain.ErrInvalidRequest, ref.JobID)
	}

	job, err := o.jobs.GetJob(ctx, ref.JobID)
	if err != nil {
		return err
	}
	task := job.Task(ref.TaskID)
	if task == nil {
		return domain.ErrNotFound
	}
	if task.Outcome != domain.TaskOutcomeSuccessWithPlaceholder {
		return fmt.Errorf("%w: task %s has no placeholder", domain.ErrInvalidRequest, task.ID)
	}
	concept, ok := reuse[domain.ConceptPayload](task, domain.StageConcept)
	if !ok {
		return fmt.Errorf("regenerate %s: concept missing", task.ID)
	}
	score, ok := reuse[domain.ValidationPayload](task, domain.StageValidation)
	if !ok {
		return fmt.Errorf("regenerate %s: validation missing", task.ID)
	}

	constraints, _ := jsoncfg.ParseConstraints(job.Constraints)
	jr := &jobRun{id: job.ID, accountID: job.AccountID, constraints: constraints}
	tr := &taskRun{o: o, job: jr, task: task, quiet: true}

	variant := 0
	for _, h := range task.History {
		if h.Stage == domain.StageImage && (h.Status == domain.StageStatusOk || h.Exhausted || h.Status == domain.StageStatusFatal) {
			variant++
		}
	}

	stored, err := o.storeImage(ctx, tr, concept, variant)
	if err != nil {
		task.CurrentStage = domain.StageDone
		task.UpdatedAt = o.now().UTC()
		tr.save()
		return fmt.Errorf("regenerate %s: %w", task.ID, err)
	}
	rec, err := runStage(ctx, o, tr, domain.StagePersist, external.KindPersist, o.adapters.persist, taskResult(tr, concept, score, stored), nil)
	if err != nil {
		o.discard(tr, stored)
		task.CurrentStage = domain.StageDone
		task.UpdatedAt = o.now().UTC()
		tr.save()
		return fmt.Errorf("regenerate %s: %w", task.ID, err)
	}

	task.Outcome = domain.TaskOutcomeSuccess
	task.ImageURL = stored.URL
	task.RecordID = rec.RecordID
	task.Error = ""
	task.CurrentStage = domain.StageDone
	tr.save()
	o.logger.Info().Str("job_id", job.ID).Str("task_id", task.ID).Int("variant", variant).Msg("pipeline: placeholder replaced")
	return nil
}

// Wait blocks until the job is no longer running and returns its latest
// snapshot.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	o.mu.Lock()
	jr, running := o.running[jobID]
	o.mu.Unlock()
	if running {
		select {
		case <-jr.done:
		case <-ctx.Done():
			return domain.JobSnapshot{}, ctx.Err()
		}
	}
	return o.Snapshot(ctx, jobID)
}

// Snapshot returns the live snapshot, else the last persisted one. A job
// without a persisted snapshot is rebuilt from the Job Store.
func (o *Orchestrator) Snapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	if snap, ok := o.tracker.Snapshot(jobID); ok {
		return snap, nil
	}
	saved, err := o.jobs.LatestSnapshot(ctx, jobID)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.JobSnapshot{}, err
	}
	if found && saved.Terminal {
		return saved, nil
	}
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	if !found {
		return domain.SnapshotFromJob(job), nil
	}
	if !job.Status.Terminal() {
		return saved, nil
	}
	// The job finished after the last persisted snapshot.
	rebuilt := domain.SnapshotFromJob(job)
	rebuilt.Revision = saved.Revision + 1
	return rebuilt, nil
}

// Running reports whether the job is owned by this process.
func (o *Orchestrator) Running(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[jobID]
	return ok
}

// Shutdown stops accepting jobs and interrupts running ones at their next
// suspension point. Interrupted jobs stay non-terminal for healing.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) onBreakerChange(name string, from, to breaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	o.logger.Warn().Str("adapter", name).Str("from", from.String()).Str("to", to.String()).Msg("pipeline: breaker state changed")

	var delta progress.Delta
	switch to {
	case breaker.StateOpen:
		delta.Degraded = name
	case breaker.StateClosed:
		delta.Recovered = name
	default:
		return
	}
	for _, snap := range o.tracker.Active() {
		if snap.Terminal {
			continue
		}
		if _, err := o.tracker.Update(snap.JobID, delta); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
			o.logger.Debug().Err(err).Str("job_id", snap.JobID).Msg("pipeline: degraded update skipped")
		}
	}
}
