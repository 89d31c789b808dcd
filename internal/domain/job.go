package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusRunning            JobStatus = "running"
	JobStatusPartiallySucceeded JobStatus = "partially_succeeded"
	JobStatusSucceeded          JobStatus = "succeeded"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusPartiallySucceeded, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskOutcome is the final state of one ItemTask.
type TaskOutcome string

const (
	TaskOutcomeNone                   TaskOutcome = ""
	TaskOutcomeSuccess                TaskOutcome = "success"
	TaskOutcomeSuccessWithPlaceholder TaskOutcome = "success_with_placeholder"
	TaskOutcomeFailed                 TaskOutcome = "failed"
	TaskOutcomeCancelled              TaskOutcome = "cancelled"
)

// Succeeded reports whether the outcome counts as a produced item.
func (o TaskOutcome) Succeeded() bool {
	return o == TaskOutcomeSuccess || o == TaskOutcomeSuccessWithPlaceholder
}

// Job encapsulates the lifecycle of one generation request.
type Job struct {
	ID            string
	AccountID     string
	Status        JobStatus
	Constraints   map[string]any
	ReservationID string
	Tasks         []*ItemTask
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Task returns the task with the given id, or nil.
func (j *Job) Task(taskID string) *ItemTask {
	for _, t := range j.Tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// AggregateStatus derives the job status from task outcomes. It is only
// meaningful once every task is terminal.
func AggregateStatus(tasks []*ItemTask) JobStatus {
	if len(tasks) == 0 {
		return JobStatusFailed
	}
	succeeded := 0
	for _, t := range tasks {
		if t.Outcome.Succeeded() {
			succeeded++
		}
	}
	switch {
	case succeeded == len(tasks):
		return JobStatusSucceeded
	case succeeded == 0:
		return JobStatusFailed
	default:
		return JobStatusPartiallySucceeded
	}
}

// ItemTask is one unit of generated content within a Job. A task is owned by
// exactly one worker at a time.
type ItemTask struct {
	ID           string
	JobID        string
	Index        int
	CurrentStage StageName
	Results      map[StageName]StageOutcome
	History      []StageOutcome
	Attempts     map[StageName]int
	Outcome      TaskOutcome
	Error        string
	ImageURL     string
	RecordID     string
	UpdatedAt    time.Time
}

// NewItemTask returns a queued task.
func NewItemTask(jobID string, index int) *ItemTask {
	return &ItemTask{
		ID:           TaskID(jobID, index),
		JobID:        jobID,
		Index:        index,
		CurrentStage: StageQueued,
		Results:      make(map[StageName]StageOutcome),
		Attempts:     make(map[StageName]int),
	}
}

// Record appends an attempt to the history and tracks it as the latest
// outcome for its stage.
func (t *ItemTask) Record(outcome StageOutcome) {
	if t.Results == nil {
		t.Results = make(map[StageName]StageOutcome)
	}
	if t.Attempts == nil {
		t.Attempts = make(map[StageName]int)
	}
	t.History = append(t.History, outcome)
	t.Results[outcome.Stage] = outcome
	if outcome.Attempt > t.Attempts[outcome.Stage] {
		t.Attempts[outcome.Stage] = outcome.Attempt
	}
	t.UpdatedAt = outcome.At
}

// Terminal reports whether the task reached a final outcome.
func (t *ItemTask) Terminal() bool {
	return t.Outcome != TaskOutcomeNone
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *ItemTask) Clone() *ItemTask {
	if t == nil {
		return nil
	}
	out := *t
	out.Results = make(map[StageName]StageOutcome, len(t.Results))
	for k, v := range t.Results {
		out.Results[k] = v
	}
	out.Attempts = make(map[StageName]int, len(t.Attempts))
	for k, v := range t.Attempts {
		out.Attempts[k] = v
	}
	out.History = append([]StageOutcome(nil), t.History...)
	return &out
}

// Clone returns a deep copy of the job and its tasks.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Tasks = make([]*ItemTask, len(j.Tasks))
	for i, t := range j.Tasks {
		out.Tasks[i] = t.Clone()
	}
	if j.Constraints != nil {
		out.Constraints = make(map[string]any, len(j.Constraints))
		for k, v := range j.Constraints {
			out.Constraints[k] = v
		}
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}
