package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealgen/internal/domain"
	"mealgen/internal/external"
	"mealgen/internal/metrics"
	"mealgen/internal/progress"
	"mealgen/internal/providers/genai"
	"mealgen/internal/providers/nutrition"
	"mealgen/internal/retry"
	"mealgen/internal/storage"
)

// errRejected marks a payload the stage itself refused, such as a
// nutrition score that was not approved.
var errRejected = errors.New("payload rejected")

type storeInput struct {
	Key         string
	Data        []byte
	ContentType string
}

type adapters struct {
	concept   *external.Adapter[genai.ConceptRequest, domain.ConceptPayload]
	nutrition *external.Adapter[nutrition.Request, domain.ValidationPayload]
	image     *external.Adapter[genai.ImageRequest, domain.ImagePayload]
	storage   *external.Adapter[storeInput, domain.StoragePayload]
	persist   *external.Adapter[domain.TaskResult, domain.PersistPayload]
}

func newAdapters(cfg Config, deps Deps) adapters {
	return adapters{
		concept:   external.New(cfg.adapter(external.KindConcept), deps.Concepts.DraftConcept),
		nutrition: external.New(cfg.adapter(external.KindNutrition), deps.Nutrition.Score),
		image:     external.New(cfg.adapter(external.KindImage), deps.Images.RenderImage),
		storage: external.New(cfg.adapter(external.KindStorage), func(ctx context.Context, in storeInput) (domain.StoragePayload, error) {
			obj, err := deps.Storage.Put(ctx, in.Key, in.Data, in.ContentType)
			if err != nil {
				return domain.StoragePayload{}, err
			}
			return domain.StoragePayload{URL: obj.URL, Key: obj.Key}, nil
		}),
		persist: external.New(cfg.adapter(external.KindPersist), func(ctx context.Context, in domain.TaskResult) (domain.PersistPayload, error) {
			id, err := deps.Results.Save(ctx, in)
			if errors.Is(err, domain.ErrInvalidRequest) {
				return domain.PersistPayload{}, external.Permanent(err)
			}
			if err != nil {
				return domain.PersistPayload{}, err
			}
			return domain.PersistPayload{RecordID: id}, nil
		}),
	}
}

// runStage drives one stage of a task through the retry policy and the
// breaker of kind. Every attempt lands in the task history; the payload is
// attached to the final one.
func runStage[I any, O domain.StagePayload](ctx context.Context, o *Orchestrator, tr *taskRun, stage domain.StageName, kind external.Kind, inv *external.Adapter[I, O], in I, check func(O) error) (O, error) {
	var zero O
	tr.enter(stage)

	start := time.Now()
	var attempts []retry.Attempt
	res := retry.Do[I, O](ctx, o.cfg.Retry, o.breakers.Get(string(kind)), inv, in, func(a retry.Attempt) {
		attempts = append(attempts, a)
	})
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	status, err := res.Status, res.Err
	if !res.Failed() {
		if verr := res.Value.Validate(); verr != nil {
			status, err = domain.StageStatusFatal, external.Permanent(verr)
		} else if check != nil {
			if cerr := check(res.Value); cerr != nil {
				status, err = domain.StageStatusFatal, cerr
			}
		}
	}

	base := tr.task.Attempts[stage]
	for i, a := range attempts {
		out := domain.StageOutcome{
			Stage:          stage,
			Attempt:        base + a.Number,
			Status:         a.Status,
			Latency:        a.Latency,
			ShortCircuited: a.ShortCircuited,
			Exhausted:      a.Exhausted,
			At:             a.At,
		}
		if a.Err != nil {
			out.Error = a.Err.Error()
		}
		if i == len(attempts)-1 {
			out.Status = status
			if status == domain.StageStatusOk {
				out.Payload = res.Value
			} else if err != nil {
				out.Error = err.Error()
			}
		}
		tr.task.Record(out)
		metrics.StageOutcomes.WithLabelValues(string(stage), outcomeLabel(out)).Inc()
	}
	if len(attempts) == 0 {
		// The retry loop gave up before its first report, e.g. on shutdown.
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("%s: no attempt made", stage)
		}
		tr.task.Record(domain.StageOutcome{Stage: stage, Attempt: base + 1, Status: domain.StageStatusRetryable, Exhausted: true, Error: err.Error(), At: time.Now().UTC()})
	}

	tr.save()

	if status != domain.StageStatusOk {
		if err == nil {
			err = fmt.Errorf("%s: %s", stage, status)
		}
		return zero, err
	}
	return res.Value, nil
}

// recordLocal appends the outcome of a stage that runs in process.
func recordLocal(tr *taskRun, payload domain.StagePayload, err error) {
	stage := payload.Stage()
	out := domain.StageOutcome{
		Stage:   stage,
		Attempt: tr.task.Attempts[stage] + 1,
		Status:  domain.StageStatusOk,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	if err != nil {
		out.Status = domain.StageStatusFatal
		out.Error = err.Error()
	}
	tr.task.Record(out)
	metrics.StageOutcomes.WithLabelValues(string(stage), outcomeLabel(out)).Inc()
}

func outcomeLabel(o domain.StageOutcome) string {
	switch {
	case o.ShortCircuited:
		return "short_circuited"
	case o.Exhausted:
		return "exhausted"
	default:
		return string(o.Status)
	}
}

func approved(v domain.ValidationPayload) error {
	if !v.Approved {
		return fmt.Errorf("%w: nutrition score %.2f below approval", errRejected, v.Score)
	}
	return nil
}

// taskRun is the state one worker holds while driving a task.
type taskRun struct {
	o    *Orchestrator
	job  *jobRun
	task *domain.ItemTask
	// quiet runs skip progress updates; regeneration works on finished jobs.
	quiet bool
}

// enter moves the task into stage and makes the transition durable.
func (tr *taskRun) enter(stage domain.StageName) {
	tr.task.CurrentStage = stage
	tr.update(progress.Delta{TaskID: tr.task.ID, Stage: stage})
	tr.save()
}

func (tr *taskRun) update(d progress.Delta) {
	if tr.quiet {
		return
	}
	if _, err := tr.o.tracker.Update(tr.job.id, d); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		tr.o.logger.Warn().Err(err).Str("job_id", tr.job.id).Str("task_id", tr.task.ID).Msg("pipeline: progress update failed")
	}
}

func (tr *taskRun) save() {
	// Saves must outlive a cancelled worker context so the last transition
	// is not lost.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tr.o.jobs.SaveTask(ctx, tr.task); err != nil {
		tr.o.logger.Warn().Err(err).Str("job_id", tr.job.id).Str("task_id", tr.task.ID).Msg("pipeline: save task failed")
	}
}

func (tr *taskRun) storageKey(img domain.ImagePayload, variant int) string {
	return storage.ImageKey(tr.job.accountID, tr.task.ID, variant, img.MIME)
}
