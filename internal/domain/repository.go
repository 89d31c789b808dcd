package domain

import (
	"context"
	"time"
)

// JobStore is the durable record of jobs, their tasks and progress. It must
// survive process restarts.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, completedAt *time.Time) error
	SaveTask(ctx context.Context, task *ItemTask) error
	SaveSnapshot(ctx context.Context, snapshot JobSnapshot) error
	// LatestSnapshot returns the last saved snapshot or ErrNotFound.
	LatestSnapshot(ctx context.Context, jobID string) (JobSnapshot, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*Job, error)
	ListPlaceholderTasks(ctx context.Context, limit int) ([]TaskRef, error)
}

// ResultStore is the persistence collaborator. Save must be idempotent by task id.
type ResultStore interface {
	Save(ctx context.Context, result TaskResult) (string, error)
	Get(ctx context.Context, taskID string) (*TaskResult, error)
}

// AccountRepository resolves account tiers.
type AccountRepository interface {
	GetTier(ctx context.Context, accountID string) (Tier, error)
	SetTier(ctx context.Context, accountID string, tier Tier) error
}
