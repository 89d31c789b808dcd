package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestAggregateStatus(t *testing.T) {
	mk := func(outcomes ...TaskOutcome) []*ItemTask {
		tasks := make([]*ItemTask, len(outcomes))
		for i, o := range outcomes {
			tasks[i] = &ItemTask{Outcome: o}
		}
		return tasks
	}
	tests := []struct {
		name  string
		tasks []*ItemTask
		want  JobStatus
	}{
		{name: "all success", tasks: mk(TaskOutcomeSuccess, TaskOutcomeSuccessWithPlaceholder), want: JobStatusSucceeded},
		{name: "some failed", tasks: mk(TaskOutcomeSuccess, TaskOutcomeFailed), want: JobStatusPartiallySucceeded},
		{name: "none succeeded", tasks: mk(TaskOutcomeFailed, TaskOutcomeCancelled), want: JobStatusFailed},
		{name: "empty", tasks: nil, want: JobStatusFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateStatus(tc.tasks); got != tc.want {
				t.Fatalf("AggregateStatus() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStageOutcomeJSONKeepsPayloadType(t *testing.T) {
	in := StageOutcome{
		Stage:   StageDedupe,
		Attempt: 1,
		Status:  StageStatusOk,
		Payload: DedupePayload{Accepted: false, MatchedTaskID: "job-01", Distance: 0},
		At:      time.Unix(1700000000, 0).UTC(),
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out StageOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, ok := out.Payload.(DedupePayload)
	if !ok {
		t.Fatalf("payload type = %T, want DedupePayload", out.Payload)
	}
	if payload.MatchedTaskID != "job-01" || out.Stage != StageDedupe || out.Attempt != 1 {
		t.Fatalf("round trip mismatch: %+v / %+v", out, payload)
	}
}

func TestDecodePayloadUnknownStage(t *testing.T) {
	if _, err := DecodePayload(json.RawMessage(`{"stage":"bogus","data":{}}`)); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerationRequest
		wantErr bool
	}{
		{name: "ok", req: GenerationRequest{AccountID: "acc", ItemCount: 3}},
		{name: "missing account", req: GenerationRequest{ItemCount: 1}, wantErr: true},
		{name: "zero items", req: GenerationRequest{AccountID: "acc"}, wantErr: true},
		{name: "too many items", req: GenerationRequest{AccountID: "acc", ItemCount: 21}, wantErr: true},
		{name: "bad constraints", req: GenerationRequest{AccountID: "acc", ItemCount: 1, Constraints: map[string]any{"meal_type": "elevenses"}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.req.Validate(20)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSnapshotFromJob(t *testing.T) {
	job := &Job{ID: "j", AccountID: "a", Status: JobStatusPartiallySucceeded}
	job.Tasks = []*ItemTask{
		{ID: "j-01", Outcome: TaskOutcomeSuccess},
		{ID: "j-02", Outcome: TaskOutcomeFailed, CurrentStage: StageConcept, Error: "exhausted"},
		{ID: "j-03", CurrentStage: StageImage},
	}
	s := SnapshotFromJob(job)
	if s.Total != 3 || s.Succeeded != 1 || s.Failed != 1 || s.Stages.Image != 1 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if len(s.Errors) != 1 || s.Errors[0].TaskID != "j-02" {
		t.Fatalf("errors = %+v", s.Errors)
	}
	if !s.Terminal {
		t.Fatalf("expected terminal snapshot")
	}
}
