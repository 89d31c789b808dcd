package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL. Tasks are stored
// as JSON documents next to a few indexed columns.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job store backed by sql.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// CreateJob inserts the job and its queued tasks in one transaction.
func (r *JobRepositoryPG) CreateJob(ctx context.Context, job *domain.Job) error {
	constraints, err := json.Marshal(job.Constraints)
	if err != nil {
		return fmt.Errorf("encode constraints: %w", err)
	}
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return infra.WithTx(ctx, r.sql, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QInsertJob,
			job.ID,
			job.AccountID,
			string(job.Status),
			constraints,
			job.ReservationID,
			created,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		for _, t := range job.Tasks {
			if err := upsertTask(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertTask(ctx context.Context, exec infra.SQLExecutor, task *domain.ItemTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = exec.Exec(ctx, sqlinline.QUpsertTask,
		task.ID,
		task.JobID,
		task.Index,
		string(task.CurrentStage),
		string(task.Outcome),
		task.Error,
		task.ImageURL,
		task.RecordID,
		body,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

// SaveTask upserts the task document and bumps the job's updated_at.
func (r *JobRepositoryPG) SaveTask(ctx context.Context, task *domain.ItemTask) error {
	return infra.WithTx(ctx, r.sql, func(tx infra.SQLExecutor) error {
		tag, err := tx.Exec(ctx, sqlinline.QTouchJob, task.JobID)
		if err != nil {
			return fmt.Errorf("touch job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return upsertTask(ctx, tx, task)
	})
}

func (r *JobRepositoryPG) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, completedAt *time.Time) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus, jobID, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveSnapshot keeps only the highest revision per job.
func (r *JobRepositoryPG) SaveSnapshot(ctx context.Context, snap domain.JobSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QUpsertJobSnapshot, snap.JobID, int64(snap.Revision), body); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the last saved snapshot of a job.
func (r *JobRepositoryPG) LatestSnapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	var body []byte
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobSnapshot, jobID).Scan(&body); err != nil {
		if infra.IsNoRows(err) {
			return domain.JobSnapshot{}, domain.ErrNotFound
		}
		return domain.JobSnapshot{}, err
	}
	var snap domain.JobSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *JobRepositoryPG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadTasks(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepositoryPG) loadTasks(ctx context.Context, job *domain.Job) error {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectTasksByJob, job.ID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return err
		}
		var task domain.ItemTask
		if err := json.Unmarshal(body, &task); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		job.Tasks = append(job.Tasks, &task)
	}
	return rows.Err()
}

func (r *JobRepositoryPG) ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListUnfinishedJobs, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := r.loadTasks(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (r *JobRepositoryPG) ListPlaceholderTasks(ctx context.Context, limit int) ([]domain.TaskRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListPlaceholderTasks, limit)
	if err != nil {
		return nil, fmt.Errorf("list placeholder tasks: %w", err)
	}
	defer rows.Close()
	var refs []domain.TaskRef
	for rows.Next() {
		var ref domain.TaskRef
		if err := rows.Scan(&ref.JobID, &ref.TaskID, &ref.AccountID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		constraints []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.AccountID,
		&status,
		&constraints,
		&job.ReservationID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &job.Constraints); err != nil {
			return nil, fmt.Errorf("decode constraints: %w", err)
		}
	}
	return &job, nil
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
