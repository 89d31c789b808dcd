package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"mealgen/internal/domain"
)

type jobRecord struct {
	ID            string
	AccountID     string
	Status        domain.JobStatus
	Terminal      bool
	Constraints   map[string]any
	ReservationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UpdatedUnix   int64
	CompletedAt   *time.Time
}

type taskRecord struct {
	ID          string
	JobID       string
	AccountID   string
	Index       int
	Placeholder bool
	UpdatedUnix int64
	Task        domain.ItemTask
}

type snapshotRecord struct {
	JobID    string
	Revision uint64
	Snapshot domain.JobSnapshot
}

// Badger is a domain.JobStore on an embedded badgerhold database.
type Badger struct {
	store *badgerhold.Store
}

// OpenBadger opens (or creates) the database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*Badger, error) {
	options := badgerhold.DefaultOptions
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal
	options.Logger = nil
	if path == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		options.Dir = path
		options.ValueDir = path
	}
	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{store: store}, nil
}

func (b *Badger) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

func toJobRecord(job *domain.Job) jobRecord {
	return jobRecord{
		ID:            job.ID,
		AccountID:     job.AccountID,
		Status:        job.Status,
		Terminal:      job.Status.Terminal(),
		Constraints:   job.Constraints,
		ReservationID: job.ReservationID,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		UpdatedUnix:   job.UpdatedAt.UnixNano(),
		CompletedAt:   job.CompletedAt,
	}
}

func (r jobRecord) job() *domain.Job {
	return &domain.Job{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Status:        r.Status,
		Constraints:   r.Constraints,
		ReservationID: r.ReservationID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func (b *Badger) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := b.store.Insert(job.ID, toJobRecord(job)); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to save job: %w", err)
	}
	for _, t := range job.Tasks {
		if err := b.putTask(job.AccountID, t); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) getJobRecord(jobID string) (jobRecord, error) {
	var rec jobRecord
	if err := b.store.Get(jobID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return rec, domain.ErrNotFound
		}
		return rec, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

func (b *Badger) touch(rec jobRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	rec.UpdatedUnix = rec.UpdatedAt.UnixNano()
	if err := b.store.Upsert(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (b *Badger) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, completedAt *time.Time) error {
	rec, err := b.getJobRecord(jobID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Terminal = status.Terminal()
	if completedAt != nil {
		ts := *completedAt
		rec.CompletedAt = &ts
	}
	return b.touch(rec)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (b *Badger) putTask(accountID string, task *domain.ItemTask) error {
	rec := taskRecord{
		ID:          task.ID,
		JobID:       task.JobID,
		AccountID:   accountID,
		Index:       task.Index,
		Placeholder: task.Outcome == domain.TaskOutcomeSuccessWithPlaceholder,
		UpdatedUnix: unixNano(task.UpdatedAt),
		Task:        *task.Clone(),
	}
	if err := b.store.Upsert(task.ID, rec); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (b *Badger) SaveTask(ctx context.Context, task *domain.ItemTask) error {
	rec, err := b.getJobRecord(task.JobID)
	if err != nil {
		return err
	}
	if err := b.putTask(rec.AccountID, task); err != nil {
		return err
	}
	return b.touch(rec)
}

func (b *Badger) SaveSnapshot(ctx context.Context, snap domain.JobSnapshot) error {
	var prev snapshotRecord
	err := b.store.Get(snap.JobID, &prev)
	if err == nil && prev.Revision > snap.Revision {
		return nil
	}
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	rec := snapshotRecord{JobID: snap.JobID, Revision: snap.Revision, Snapshot: snap}
	if err := b.store.Upsert(snap.JobID, rec); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the last saved snapshot of a job.
func (b *Badger) LatestSnapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	var rec snapshotRecord
	if err := b.store.Get(jobID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.JobSnapshot{}, domain.ErrNotFound
		}
		return domain.JobSnapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return rec.Snapshot, nil
}

func (b *Badger) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	rec, err := b.getJobRecord(jobID)
	if err != nil {
		return nil, err
	}
	return b.loadTasks(rec)
}

func (b *Badger) loadTasks(rec jobRecord) (*domain.Job, error) {
	var tasks []taskRecord
	if err := b.store.Find(&tasks, badgerhold.Where("JobID").Eq(rec.ID)); err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Index < tasks[j].Index })
	job := rec.job()
	for i := range tasks {
		t := tasks[i].Task
		job.Tasks = append(job.Tasks, &t)
	}
	return job, nil
}

func (b *Badger) ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Job, error) {
	query := badgerhold.Where("Terminal").Eq(false).And("UpdatedUnix").Lt(updatedBefore.UnixNano()).SortBy("UpdatedUnix")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var recs []jobRecord
	if err := b.store.Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*domain.Job, 0, len(recs))
	for _, rec := range recs {
		job, err := b.loadTasks(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (b *Badger) ListPlaceholderTasks(ctx context.Context, limit int) ([]domain.TaskRef, error) {
	var recs []taskRecord
	if err := b.store.Find(&recs, badgerhold.Where("Placeholder").Eq(true).SortBy("UpdatedUnix", "ID")); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	var out []domain.TaskRef
	for _, rec := range recs {
		job, err := b.getJobRecord(rec.JobID)
		if err != nil || !job.Terminal {
			continue
		}
		out = append(out, domain.TaskRef{JobID: rec.JobID, TaskID: rec.ID, AccountID: rec.AccountID})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ domain.JobStore = (*Badger)(nil)
