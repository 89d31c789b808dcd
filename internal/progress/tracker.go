// Package progress keeps the live, caller-visible state of running jobs.
package progress

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mealgen/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Delta is one change to a job. Zero fields are ignored.
type Delta struct {
	TaskID string
	// Stage is the stage the task just entered.
	Stage domain.StageName
	// Outcome finalizes the task.
	Outcome domain.TaskOutcome
	// Err is appended to the job's error list for TaskID.
	Err       string
	ErrStage  domain.StageName
	Degraded  string
	Recovered string
	Status    domain.JobStatus
	// Draining publishes a terminal Status without ending the stream. The
	// terminal snapshot follows once in-flight work has stopped.
	Draining bool
}

type subscriber struct {
	ch chan domain.JobSnapshot
}

type entry struct {
	mu    sync.Mutex
	snap  atomic.Pointer[domain.JobSnapshot]
	tasks map[string]domain.StageName
	done  map[string]domain.TaskOutcome
	subs  map[*subscriber]struct{}
	// finishedAt is set once the terminal snapshot was published.
	finishedAt time.Time
}

// Tracker holds one entry per job. Update is serialized per job; Snapshot
// reads an immutable value and never takes the job lock.
type Tracker struct {
	buffer int
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry
}

// NewTracker returns an empty tracker. buffer <= 0 selects DefaultBuffer.
func NewTracker(buffer int) *Tracker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Tracker{buffer: buffer, now: time.Now, jobs: make(map[string]*entry)}
}

// WithClock overrides the clock used for UpdatedAt.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Register starts tracking job from its current task states. Registering a
// job that is still live is a no-op, so Resume can call it unconditionally.
func (t *Tracker) Register(job *domain.Job) domain.JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[job.ID]; ok && e.finishedAt.IsZero() {
		return *e.snap.Load()
	}
	e := &entry{
		tasks: make(map[string]domain.StageName, len(job.Tasks)),
		done:  make(map[string]domain.TaskOutcome),
		subs:  make(map[*subscriber]struct{}),
	}
	snap := domain.SnapshotFromJob(job)
	snap.Revision = 1
	snap.Errors = nil
	snap.Stages = domain.StageCounts{}
	snap.UpdatedAt = t.now().UTC()
	for _, task := range job.Tasks {
		if task.Terminal() {
			e.done[task.ID] = task.Outcome
			if task.Error != "" {
				snap.Errors = append(snap.Errors, domain.TaskError{TaskID: task.ID, Stage: task.CurrentStage, Message: task.Error})
			}
			continue
		}
		stage := task.CurrentStage
		if stage == "" {
			stage = domain.StageQueued
		}
		e.tasks[task.ID] = stage
		snap.Stages.Add(stage, 1)
	}
	e.snap.Store(&snap)
	t.jobs[job.ID] = e
	return snap
}

func (t *Tracker) get(jobID string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.jobs[jobID]
	return e, ok
}

// Snapshot returns the latest snapshot of a job.
func (t *Tracker) Snapshot(jobID string) (domain.JobSnapshot, bool) {
	e, ok := t.get(jobID)
	if !ok {
		return domain.JobSnapshot{}, false
	}
	return *e.snap.Load(), true
}

// Update applies delta and publishes the resulting snapshot. Updates after
// the terminal snapshot are rejected with domain.ErrJobTerminal.
func (t *Tracker) Update(jobID string, delta Delta) (domain.JobSnapshot, error) {
	e, ok := t.get(jobID)
	if !ok {
		return domain.JobSnapshot{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	if cur.Terminal {
		return *cur, domain.ErrJobTerminal
	}
	next := cloneSnapshot(*cur)
	next.Revision = cur.Revision + 1
	next.UpdatedAt = t.now().UTC()

	if delta.TaskID != "" {
		if _, finished := e.done[delta.TaskID]; !finished {
			prev, known := e.tasks[delta.TaskID]
			if delta.Stage != "" && delta.Stage != prev {
				if known {
					next.Stages.Add(prev, -1)
				}
				next.Stages.Add(delta.Stage, 1)
				e.tasks[delta.TaskID] = delta.Stage
				prev, known = delta.Stage, true
			}
			if delta.Outcome != domain.TaskOutcomeNone {
				if known {
					next.Stages.Add(prev, -1)
				}
				delete(e.tasks, delta.TaskID)
				e.done[delta.TaskID] = delta.Outcome
				switch delta.Outcome {
				case domain.TaskOutcomeSuccess:
					next.Succeeded++
				case domain.TaskOutcomeSuccessWithPlaceholder:
					next.SucceededWithPlaceholder++
				case domain.TaskOutcomeFailed:
					next.Failed++
				case domain.TaskOutcomeCancelled:
					next.Cancelled++
				}
			}
		}
		if delta.Err != "" {
			next.Errors = append(next.Errors, domain.TaskError{TaskID: delta.TaskID, Stage: delta.ErrStage, Message: delta.Err})
		}
	}
	if delta.Degraded != "" {
		next.Degraded = addSorted(next.Degraded, delta.Degraded)
	}
	if delta.Recovered != "" {
		next.Degraded = remove(next.Degraded, delta.Recovered)
	}
	if delta.Status != "" {
		next.Status = delta.Status
		next.Terminal = delta.Status.Terminal() && !delta.Draining
	}

	e.snap.Store(&next)
	e.publish(next)
	if next.Terminal {
		e.finishedAt = next.UpdatedAt
	}
	return next, nil
}

// publish must be called with e.mu held. A full subscriber loses its oldest
// pending snapshot; the terminal snapshot is always delivered, then the
// channel is closed.
func (e *entry) publish(snap domain.JobSnapshot) {
	for sub := range e.subs {
		deliver(sub.ch, snap)
		if snap.Terminal {
			close(sub.ch)
			delete(e.subs, sub)
		}
	}
}

func deliver(ch chan domain.JobSnapshot, snap domain.JobSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe streams snapshots of a job in revision order, starting with the
// current one. The channel closes after the terminal snapshot or when cancel
// is called.
func (t *Tracker) Subscribe(jobID string) (<-chan domain.JobSnapshot, func(), error) {
	e, ok := t.get(jobID)
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	if cur.Terminal {
		ch := make(chan domain.JobSnapshot, 1)
		ch <- *cur
		close(ch)
		return ch, func() {}, nil
	}
	sub := &subscriber{ch: make(chan domain.JobSnapshot, t.buffer)}
	sub.ch <- *cur
	e.subs[sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, live := e.subs[sub]; live {
				delete(e.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, nil
}

// Active returns the snapshot of every tracked job, ordered by job id.
func (t *Tracker) Active() []domain.JobSnapshot {
	t.mu.RLock()
	out := make([]domain.JobSnapshot, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, *e.snap.Load())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Evict forgets jobs whose terminal snapshot is older than before. keep may
// veto eviction, e.g. until the final snapshot is persisted.
func (t *Tracker) Evict(before time.Time, keep func(domain.JobSnapshot) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.jobs {
		e.mu.Lock()
		finished := e.finishedAt
		snap := *e.snap.Load()
		e.mu.Unlock()
		if finished.IsZero() || !finished.Before(before) {
			continue
		}
		if keep != nil && keep(snap) {
			continue
		}
		delete(t.jobs, id)
		n++
	}
	return n
}

func cloneSnapshot(s domain.JobSnapshot) domain.JobSnapshot {
	s.Errors = append([]domain.TaskError(nil), s.Errors...)
	s.Degraded = append([]string(nil), s.Degraded...)
	return s
}

func addSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
