// Package jobstore holds the embedded Job Store implementations: an
// in-process map for tests and single-node development, and a badgerhold
// store that survives restarts without a database server.
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mealgen/internal/domain"
)

// Memory implements domain.JobStore in process. Values are cloned on the way
// in and out so callers never share task state with the store.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[string]*domain.Job
	snapshots map[string]domain.JobSnapshot
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job), snapshots: make(map[string]domain.JobSnapshot)}
}

func (m *Memory) CreateJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	if completedAt != nil {
		ts := *completedAt
		j.CompletedAt = &ts
	}
	return nil
}

func (m *Memory) SaveTask(ctx context.Context, task *domain.ItemTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[task.JobID]
	if !ok {
		return domain.ErrNotFound
	}
	clone := task.Clone()
	for i, t := range j.Tasks {
		if t.ID == task.ID {
			j.Tasks[i] = clone
			j.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	j.Tasks = append(j.Tasks, clone)
	sort.Slice(j.Tasks, func(a, b int) bool { return j.Tasks[a].Index < j.Tasks[b].Index })
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, snap domain.JobSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.snapshots[snap.JobID]; ok && prev.Revision > snap.Revision {
		return nil
	}
	m.snapshots[snap.JobID] = snap
	return nil
}

// LatestSnapshot returns the last saved snapshot of a job.
func (m *Memory) LatestSnapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[jobID]
	if !ok {
		return domain.JobSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status.Terminal() || !j.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPlaceholderTasks(ctx context.Context, limit int) ([]domain.TaskRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type candidate struct {
		ref       domain.TaskRef
		updatedAt time.Time
	}
	var found []candidate
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			continue
		}
		for _, t := range j.Tasks {
			if t.Outcome == domain.TaskOutcomeSuccessWithPlaceholder {
				found = append(found, candidate{
					ref:       domain.TaskRef{JobID: j.ID, TaskID: t.ID, AccountID: j.AccountID},
					updatedAt: t.UpdatedAt,
				})
			}
		}
	}
	// Least recently touched first so failing tasks rotate to the back.
	sort.Slice(found, func(a, b int) bool {
		if !found[a].updatedAt.Equal(found[b].updatedAt) {
			return found[a].updatedAt.Before(found[b].updatedAt)
		}
		return found[a].ref.TaskID < found[b].ref.TaskID
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]domain.TaskRef, 0, len(found))
	for _, c := range found {
		out = append(out, c.ref)
	}
	return out, nil
}

var _ domain.JobStore = (*Memory)(nil)

// MemoryResults is an in-process domain.ResultStore keyed by task id.
type MemoryResults struct {
	mu      sync.RWMutex
	results map[string]domain.TaskResult
	ids     map[string]string
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[string]domain.TaskResult), ids: make(map[string]string)}
}

// Save upserts by task id and keeps the record id stable across saves.
func (m *MemoryResults) Save(ctx context.Context, result domain.TaskResult) (string, error) {
	if result.TaskID == "" {
		return "", fmt.Errorf("%w: task id is required", domain.ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[result.TaskID]
	if !ok {
		id = uuid.NewString()
		m.ids[result.TaskID] = id
	}
	if result.SavedAt.IsZero() {
		result.SavedAt = time.Now().UTC()
	}
	m.results[result.TaskID] = result
	return id, nil
}

func (m *MemoryResults) Get(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

var _ domain.ResultStore = (*MemoryResults)(nil)
