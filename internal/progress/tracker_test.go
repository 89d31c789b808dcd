package progress

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
)

func newJob(id string, n int) *domain.Job {
	job := &domain.Job{ID: id, AccountID: "acct", Status: domain.JobStatusPending}
	for i := 0; i < n; i++ {
		job.Tasks = append(job.Tasks, domain.NewItemTask(id, i))
	}
	return job
}

func TestRegisterCountsQueuedTasks(t *testing.T) {
	tr := NewTracker(0)
	snap := tr.Register(newJob("job", 3))
	assert.Equal(t, uint64(1), snap.Revision)
	assert.Equal(t, 3, snap.Stages.Queued)
	assert.Equal(t, 3, snap.Total)
}

func TestUpdateMovesStageCounts(t *testing.T) {
	tr := NewTracker(0)
	job := newJob("job", 2)
	tr.Register(job)
	task := job.Tasks[0].ID

	_, err := tr.Update("job", Delta{TaskID: task, Stage: domain.StageConcept})
	require.NoError(t, err)
	snap, err := tr.Update("job", Delta{TaskID: task, Stage: domain.StageValidation})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stages.Queued)
	assert.Equal(t, 0, snap.Stages.Concept)
	assert.Equal(t, 1, snap.Stages.Validation)

	snap, err = tr.Update("job", Delta{TaskID: task, Outcome: domain.TaskOutcomeFailed, Err: "rejected", ErrStage: domain.StageValidation})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Stages.Validation)
	assert.Equal(t, 1, snap.Failed)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, domain.StageValidation, snap.Errors[0].Stage)

	// A finished task cannot move again.
	snap, err = tr.Update("job", Delta{TaskID: task, Stage: domain.StageImage})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Stages.Image)
	assert.Equal(t, 1, snap.Stages.Total())
}

func TestDegradedSet(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	_, _ = tr.Update("job", Delta{Degraded: "image"})
	_, _ = tr.Update("job", Delta{Degraded: "concept"})
	snap, _ := tr.Update("job", Delta{Degraded: "image"})
	assert.Equal(t, []string{"concept", "image"}, snap.Degraded)
	snap, _ = tr.Update("job", Delta{Recovered: "concept"})
	assert.Equal(t, []string{"image"}, snap.Degraded)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	first, _ := tr.Update("job", Delta{TaskID: "job-01", Err: "one"})
	_, _ = tr.Update("job", Delta{TaskID: "job-01", Err: "two"})
	assert.Len(t, first.Errors, 1)
}

func TestUnknownJobAndTerminalRejection(t *testing.T) {
	tr := NewTracker(0)
	_, err := tr.Update("missing", Delta{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tr.Register(newJob("job", 1))
	_, err = tr.Update("job", Delta{Status: domain.JobStatusSucceeded})
	require.NoError(t, err)
	_, err = tr.Update("job", Delta{Status: domain.JobStatusFailed})
	assert.ErrorIs(t, err, domain.ErrJobTerminal)
}

func TestSubscribeOrderedAndTerminalExactlyOnce(t *testing.T) {
	tr := NewTracker(4)
	job := newJob("job", 3)
	tr.Register(job)
	ch, cancel, err := tr.Subscribe("job")
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	var got []domain.JobSnapshot
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range ch {
			got = append(got, snap)
			time.Sleep(time.Millisecond) // slow consumer
		}
	}()

	for i := 0; i < 50; i++ {
		task := job.Tasks[i%3].ID
		_, err := tr.Update("job", Delta{TaskID: task, Stage: domain.Stages[i%len(domain.Stages)]})
		require.NoError(t, err)
	}
	_, err = tr.Update("job", Delta{Status: domain.JobStatusFailed})
	require.NoError(t, err)
	wg.Wait()

	require.NotEmpty(t, got)
	terminal := 0
	for i, snap := range got {
		if i > 0 {
			assert.Greater(t, snap.Revision, got[i-1].Revision)
		}
		if snap.Terminal {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.True(t, got[len(got)-1].Terminal)
}

func TestSubscribeAfterTerminal(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	_, err := tr.Update("job", Delta{Status: domain.JobStatusCancelled})
	require.NoError(t, err)

	ch, _, err := tr.Subscribe("job")
	require.NoError(t, err)
	snap, ok := <-ch
	require.True(t, ok)
	assert.True(t, snap.Terminal)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	ch, cancel, err := tr.Subscribe("job")
	require.NoError(t, err)
	<-ch
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	_, err = tr.Update("job", Delta{TaskID: "job-01", Stage: domain.StageConcept})
	require.NoError(t, err)
}

func TestConcurrentUpdatesMonotonicRevisions(t *testing.T) {
	tr := NewTracker(0)
	job := newJob("job", 8)
	tr.Register(job)

	var wg sync.WaitGroup
	for _, task := range job.Tasks {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for _, stage := range domain.Stages {
				if _, err := tr.Update("job", Delta{TaskID: id, Stage: stage}); err != nil {
					t.Errorf("update: %v", err)
				}
			}
			if _, err := tr.Update("job", Delta{TaskID: id, Outcome: domain.TaskOutcomeSuccess}); err != nil {
				t.Errorf("update: %v", err)
			}
		}(task.ID)
	}

	var last uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			snap, ok := tr.Snapshot("job")
			if !ok {
				t.Errorf("snapshot missing")
				return
			}
			if snap.Revision < last {
				t.Errorf("revision went backwards: %d < %d", snap.Revision, last)
			}
			last = snap.Revision
		}
	}()
	wg.Wait()
	<-done

	snap, _ := tr.Snapshot("job")
	assert.Equal(t, 8, snap.Succeeded)
	assert.Zero(t, snap.Stages.Total())
	assert.Equal(t, uint64(1+8*(len(domain.Stages)+1)), snap.Revision)
}

type memWriter struct {
	mu    sync.Mutex
	saved map[string]domain.JobSnapshot
	fail  bool
}

func (m *memWriter) SaveSnapshot(ctx context.Context, snap domain.JobSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	if m.saved == nil {
		m.saved = make(map[string]domain.JobSnapshot)
	}
	m.saved[snap.JobID] = snap
	return nil
}

func TestSnapshotterFlushAndEvict(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	w := &memWriter{}
	s := NewSnapshotter(tr, w, time.Hour, 0, infra.NopLogger())

	assert.Equal(t, 1, s.Flush(context.Background()))
	assert.Equal(t, 0, s.Flush(context.Background()), "unchanged snapshot is not rewritten")

	_, err := tr.Update("job", Delta{TaskID: "job-01", Outcome: domain.TaskOutcomeSuccess})
	require.NoError(t, err)
	_, err = tr.Update("job", Delta{Status: domain.JobStatusSucceeded})
	require.NoError(t, err)

	w.fail = true
	s.Flush(context.Background())
	_, ok := tr.Snapshot("job")
	assert.True(t, ok, "unsaved terminal snapshot must not be evicted")

	w.fail = false
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, s.Flush(context.Background()))
	assert.True(t, w.saved["job"].Terminal)
	time.Sleep(time.Millisecond)
	s.Flush(context.Background())
	_, ok = tr.Snapshot("job")
	assert.False(t, ok)
}

func TestDrainingStatusKeepsStreamOpen(t *testing.T) {
	tr := NewTracker(0)
	tr.Register(newJob("job", 1))
	ch, cancel, err := tr.Subscribe("job")
	require.NoError(t, err)
	defer cancel()
	<-ch

	snap, err := tr.Update("job", Delta{Status: domain.JobStatusCancelled, Draining: true})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, snap.Status)
	assert.False(t, snap.Terminal)
	got := <-ch
	assert.False(t, got.Terminal)

	_, err = tr.Update("job", Delta{TaskID: domain.TaskID("job", 0), Outcome: domain.TaskOutcomeCancelled})
	require.NoError(t, err, "updates are still accepted while draining")
	<-ch

	snap, err = tr.Update("job", Delta{Status: domain.JobStatusCancelled})
	require.NoError(t, err)
	assert.True(t, snap.Terminal)
	last, open := <-ch
	require.True(t, open)
	assert.True(t, last.Terminal)
	_, open = <-ch
	assert.False(t, open)
}
