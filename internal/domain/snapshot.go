package domain

import "time"

// TaskError describes why a task failed or degraded.
type TaskError struct {
	TaskID  string    `json:"task_id"`
	Stage   StageName `json:"stage"`
	Message string    `json:"message"`
}

// StageCounts counts tasks currently in each non-terminal stage.
type StageCounts struct {
	Queued     int `json:"queued"`
	Concept    int `json:"concept"`
	Validation int `json:"validation"`
	Image      int `json:"image"`
	Dedupe     int `json:"dedupe"`
	Storage    int `json:"storage"`
	Persist    int `json:"persist"`
}

// Add adjusts the counter for a stage by delta.
func (c *StageCounts) Add(stage StageName, delta int) {
	switch stage {
	case StageQueued:
		c.Queued += delta
	case StageConcept:
		c.Concept += delta
	case StageValidation:
		c.Validation += delta
	case StageImage:
		c.Image += delta
	case StageDedupe:
		c.Dedupe += delta
	case StageStorage:
		c.Storage += delta
	case StagePersist:
		c.Persist += delta
	}
}

// Total returns the number of tasks still in flight.
func (c StageCounts) Total() int {
	return c.Queued + c.Concept + c.Validation + c.Image + c.Dedupe + c.Storage + c.Persist
}

// JobSnapshot is an internally consistent view of a job's progress.
type JobSnapshot struct {
	JobID                    string      `json:"job_id"`
	AccountID                string      `json:"account_id"`
	Status                   JobStatus   `json:"status"`
	Revision                 uint64      `json:"revision"`
	Total                    int         `json:"total"`
	Stages                   StageCounts `json:"stages"`
	Succeeded                int         `json:"succeeded"`
	SucceededWithPlaceholder int         `json:"succeeded_with_placeholder"`
	Failed                   int         `json:"failed"`
	Cancelled                int         `json:"cancelled"`
	Errors                   []TaskError `json:"errors,omitempty"`
	Degraded                 []string    `json:"degraded,omitempty"`
	UpdatedAt                time.Time   `json:"updated_at"`
	Terminal                 bool        `json:"terminal"`
}

// Finished returns the number of tasks with a final outcome.
func (s JobSnapshot) Finished() int {
	return s.Succeeded + s.SucceededWithPlaceholder + s.Failed + s.Cancelled
}

// SnapshotFromJob rebuilds a snapshot from a stored job. Used when the live
// tracker no longer holds the job.
func SnapshotFromJob(j *Job) JobSnapshot {
	s := JobSnapshot{
		JobID:     j.ID,
		AccountID: j.AccountID,
		Status:    j.Status,
		Total:     len(j.Tasks),
		UpdatedAt: j.UpdatedAt,
		Terminal:  j.Status.Terminal(),
	}
	for _, t := range j.Tasks {
		switch t.Outcome {
		case TaskOutcomeSuccess:
			s.Succeeded++
		case TaskOutcomeSuccessWithPlaceholder:
			s.SucceededWithPlaceholder++
		case TaskOutcomeFailed:
			s.Failed++
		case TaskOutcomeCancelled:
			s.Cancelled++
		default:
			s.Stages.Add(t.CurrentStage, 1)
		}
		if t.Error != "" {
			s.Errors = append(s.Errors, TaskError{TaskID: t.ID, Stage: t.CurrentStage, Message: t.Error})
		}
	}
	return s
}
