package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealgen/internal/domain"
)

type factory func(t *testing.T) domain.JobStore

func stores() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T) domain.JobStore { return NewMemory() },
		"badger": func(t *testing.T) domain.JobStore {
			b, err := OpenBadger("")
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func sampleJob(id string, n int, updated time.Time) *domain.Job {
	job := &domain.Job{
		ID:          id,
		AccountID:   "acct-" + id,
		Status:      domain.JobStatusRunning,
		Constraints: map[string]any{"meal_type": "dinner"},
		CreatedAt:   updated,
		UpdatedAt:   updated,
	}
	for i := 0; i < n; i++ {
		job.Tasks = append(job.Tasks, domain.NewItemTask(id, i))
	}
	return job
}

func TestCreateGetRoundTrip(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			job := sampleJob("job-a", 2, time.Now().UTC())
			require.NoError(t, s.CreateJob(ctx, job))
			assert.Error(t, s.CreateJob(ctx, job), "duplicate id")

			got, err := s.GetJob(ctx, "job-a")
			require.NoError(t, err)
			assert.Equal(t, "acct-job-a", got.AccountID)
			require.Len(t, got.Tasks, 2)
			assert.Equal(t, "job-a-01", got.Tasks[0].ID)
			assert.Equal(t, domain.StageQueued, got.Tasks[1].CurrentStage)
			assert.Equal(t, "dinner", got.Constraints["meal_type"])

			_, err = s.GetJob(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestSaveTaskKeepsHistoryAndPayloads(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			job := sampleJob("job-b", 1, time.Now().UTC())
			require.NoError(t, s.CreateJob(ctx, job))

			task := job.Tasks[0]
			task.CurrentStage = domain.StageValidation
			task.Record(domain.StageOutcome{
				Stage:   domain.StageConcept,
				Attempt: 1,
				Status:  domain.StageStatusOk,
				Payload: domain.ConceptPayload{Title: "Lentil soup", Servings: 2, Ingredients: []domain.Ingredient{{Name: "lentils"}}, Steps: []string{"simmer"}},
				At:      time.Now().UTC(),
			})
			require.NoError(t, s.SaveTask(ctx, task))

			got, err := s.GetJob(ctx, "job-b")
			require.NoError(t, err)
			stored := got.Tasks[0]
			assert.Equal(t, domain.StageValidation, stored.CurrentStage)
			require.Len(t, stored.History, 1)
			concept, ok := stored.Results[domain.StageConcept].Payload.(domain.ConceptPayload)
			require.True(t, ok, "payload type must survive storage")
			assert.Equal(t, "Lentil soup", concept.Title)
			assert.Equal(t, 1, stored.Attempts[domain.StageConcept])

			orphan := domain.NewItemTask("nope", 0)
			assert.ErrorIs(t, s.SaveTask(ctx, orphan), domain.ErrNotFound)
		})
	}
}

func TestListUnfinishedAndPlaceholders(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			old := time.Now().Add(-time.Hour).UTC()

			stale := sampleJob("stale", 1, old)
			done := sampleJob("done", 2, old)
			require.NoError(t, s.CreateJob(ctx, stale))
			require.NoError(t, s.CreateJob(ctx, done))

			done.Tasks[0].Outcome = domain.TaskOutcomeSuccess
			done.Tasks[1].Outcome = domain.TaskOutcomeSuccessWithPlaceholder
			for _, task := range done.Tasks {
				require.NoError(t, s.SaveTask(ctx, task))
			}
			now := time.Now().UTC()
			require.NoError(t, s.UpdateJobStatus(ctx, "done", domain.JobStatusSucceeded, &now))

			jobs, err := s.ListUnfinished(ctx, time.Now().Add(-time.Minute), 10)
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, "stale", jobs[0].ID)
			require.Len(t, jobs[0].Tasks, 1)

			fresh, err := s.ListUnfinished(ctx, time.Now().Add(-2*time.Hour), 10)
			require.NoError(t, err)
			assert.Empty(t, fresh)

			refs, err := s.ListPlaceholderTasks(ctx, 10)
			require.NoError(t, err)
			require.Len(t, refs, 1)
			assert.Equal(t, domain.TaskRef{JobID: "done", TaskID: "done-02", AccountID: "acct-done"}, refs[0])

			got, err := s.GetJob(ctx, "done")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusSucceeded, got.Status)
			require.NotNil(t, got.CompletedAt)
		})
	}
}

func TestPlaceholdersOrderedByLastTouch(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			base := time.Now().Add(-time.Hour).UTC()

			job := sampleJob("ph", 3, base)
			require.NoError(t, s.CreateJob(ctx, job))
			for i, task := range job.Tasks {
				task.Outcome = domain.TaskOutcomeSuccessWithPlaceholder
				task.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, s.SaveTask(ctx, task))
			}
			now := time.Now().UTC()
			require.NoError(t, s.UpdateJobStatus(ctx, "ph", domain.JobStatusSucceeded, &now))

			// A failed regeneration touches the first task.
			job.Tasks[0].UpdatedAt = now
			require.NoError(t, s.SaveTask(ctx, job.Tasks[0]))

			refs, err := s.ListPlaceholderTasks(ctx, 2)
			require.NoError(t, err)
			require.Len(t, refs, 2)
			assert.Equal(t, "ph-02", refs[0].TaskID)
			assert.Equal(t, "ph-03", refs[1].TaskID)

			all, err := s.ListPlaceholderTasks(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "ph-01", all[2].TaskID, "recently retried task goes last")
		})
	}
}

func TestSnapshotsKeepHighestRevision(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			require.NoError(t, s.SaveSnapshot(ctx, domain.JobSnapshot{JobID: "j", Revision: 5, Succeeded: 2}))
			require.NoError(t, s.SaveSnapshot(ctx, domain.JobSnapshot{JobID: "j", Revision: 3, Succeeded: 1}))
			snap, err := s.LatestSnapshot(ctx, "j")
			require.NoError(t, err)
			assert.Equal(t, uint64(5), snap.Revision)
			assert.Equal(t, 2, snap.Succeeded)
		})
	}
}

func TestMemoryResultsIdempotentByTask(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryResults()
	first, err := r.Save(ctx, domain.TaskResult{TaskID: "t1", ImageURL: "placeholder", Placeholder: true})
	require.NoError(t, err)
	second, err := r.Save(ctx, domain.TaskResult{TaskID: "t1", ImageURL: "real"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "real", got.ImageURL)
	assert.False(t, got.Placeholder)

	_, err = r.Save(ctx, domain.TaskResult{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
