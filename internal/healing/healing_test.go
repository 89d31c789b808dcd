package healing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/jobstore"
)

type fakeOrchestrator struct {
	mu          sync.Mutex
	running     map[string]bool
	resumed     []string
	regenerated []string
	resumeErr   error
	regenErr    map[string]error
}

func (f *fakeOrchestrator) Resume(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = append(f.resumed, job.ID)
	return nil
}

func (f *fakeOrchestrator) RegenerateImage(ctx context.Context, ref domain.TaskRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.regenErr[ref.TaskID]; err != nil {
		return err
	}
	f.regenerated = append(f.regenerated, ref.TaskID)
	return nil
}

func (f *fakeOrchestrator) Running(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[jobID]
}

func seedJob(t *testing.T, store *jobstore.Memory, id string, status domain.JobStatus, updated time.Time, outcomes ...domain.TaskOutcome) {
	t.Helper()
	job := &domain.Job{ID: id, AccountID: "acct", Status: status, CreatedAt: updated, UpdatedAt: updated}
	for i, o := range outcomes {
		task := domain.NewItemTask(id, i)
		task.Outcome = o
		job.Tasks = append(job.Tasks, task)
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
}

func TestResumeStaleSkipsFreshAndRunningJobs(t *testing.T) {
	store := jobstore.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, store, "stale", domain.JobStatusRunning, now.Add(-time.Hour), domain.TaskOutcomeNone)
	seedJob(t, store, "busy", domain.JobStatusRunning, now.Add(-time.Hour), domain.TaskOutcomeNone)
	seedJob(t, store, "fresh", domain.JobStatusRunning, now.Add(-time.Minute), domain.TaskOutcomeNone)
	seedJob(t, store, "done", domain.JobStatusSucceeded, now.Add(-time.Hour), domain.TaskOutcomeSuccess)

	orch := &fakeOrchestrator{running: map[string]bool{"busy": true}}
	h := New(Config{StaleAfter: 10 * time.Minute}, store, orch, infra.NopLogger())
	h.now = func() time.Time { return now }

	resumed, failed := h.ResumeStale(context.Background())
	assert.Equal(t, 1, resumed)
	assert.Zero(t, failed)
	assert.Equal(t, []string{"stale"}, orch.resumed)
}

func TestResumeStaleCountsFailures(t *testing.T) {
	store := jobstore.NewMemory()
	now := time.Now()
	seedJob(t, store, "a", domain.JobStatusPending, now.Add(-time.Hour), domain.TaskOutcomeNone)
	seedJob(t, store, "b", domain.JobStatusRunning, now.Add(-time.Hour), domain.TaskOutcomeNone)

	orch := &fakeOrchestrator{resumeErr: domain.ErrShuttingDown}
	h := New(Config{}, store, orch, infra.NopLogger())

	resumed, failed := h.ResumeStale(context.Background())
	assert.Zero(t, resumed)
	assert.Equal(t, 2, failed)
}

func TestRegeneratePlaceholdersContinuesAfterFailure(t *testing.T) {
	store := jobstore.NewMemory()
	now := time.Now()
	seedJob(t, store, "job", domain.JobStatusSucceeded, now,
		domain.TaskOutcomeSuccessWithPlaceholder, domain.TaskOutcomeSuccess, domain.TaskOutcomeSuccessWithPlaceholder)

	first := domain.TaskID("job", 0)
	third := domain.TaskID("job", 2)
	orch := &fakeOrchestrator{regenErr: map[string]error{first: errors.New("image provider down")}}
	h := New(Config{Regenerate: true}, store, orch, infra.NopLogger())

	report := h.Sweep(context.Background())
	assert.Equal(t, 1, report.Regenerated)
	assert.Equal(t, 1, report.RegenerateFailed)
	assert.Equal(t, []string{third}, orch.regenerated)
}

func TestSweepWithoutRegenerateLeavesPlaceholders(t *testing.T) {
	store := jobstore.NewMemory()
	seedJob(t, store, "job", domain.JobStatusSucceeded, time.Now(), domain.TaskOutcomeSuccessWithPlaceholder)
	orch := &fakeOrchestrator{}
	h := New(Config{}, store, orch, infra.NopLogger())

	report := h.Sweep(context.Background())
	assert.Zero(t, report.Regenerated)
	assert.Empty(t, orch.regenerated)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	h := New(Config{Schedule: "every now and then"}, jobstore.NewMemory(), &fakeOrchestrator{}, infra.NopLogger())
	assert.Error(t, h.Start(context.Background()))

	ok := New(Config{Schedule: "@every 1h"}, jobstore.NewMemory(), &fakeOrchestrator{}, infra.NopLogger())
	require.NoError(t, ok.Start(context.Background()))
	ok.Stop()
}
