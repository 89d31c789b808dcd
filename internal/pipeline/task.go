package pipeline

import (
	"strings"

	"mealgen/internal/domain"
	"mealgen/internal/providers/genai"
	"mealgen/internal/providers/nutrition"
)

// reuse returns the successful payload a task already produced for stage.
func reuse[T domain.StagePayload](task *domain.ItemTask, stage domain.StageName) (T, bool) {
	var zero T
	out, ok := task.Results[stage]
	if !ok || out.Status != domain.StageStatusOk {
		return zero, false
	}
	v, ok := out.Payload.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

func conceptRequest(tr *taskRun) genai.ConceptRequest {
	return genai.ConceptRequest{TaskID: tr.task.ID, Index: tr.task.Index, Constraints: tr.job.constraints}
}

func nutritionRequest(tr *taskRun, concept domain.ConceptPayload) nutrition.Request {
	return nutrition.Request{TaskID: tr.task.ID, Concept: concept, Constraints: tr.job.constraints}
}

func imageRequest(tr *taskRun, concept domain.ConceptPayload, variant int) genai.ImageRequest {
	prompt := strings.TrimSpace(concept.ImagePrompt)
	if prompt == "" {
		prompt = concept.Title
	}
	return genai.ImageRequest{TaskID: tr.task.ID, Prompt: prompt, AspectRatio: "4:3", Variant: variant}
}

func taskResult(tr *taskRun, concept domain.ConceptPayload, score domain.ValidationPayload, stored domain.StoragePayload) domain.TaskResult {
	return domain.TaskResult{
		TaskID:      tr.task.ID,
		JobID:       tr.job.id,
		AccountID:   tr.job.accountID,
		Concept:     concept,
		Nutrition:   score,
		ImageURL:    stored.URL,
		Placeholder: stored.Placeholder,
	}
}
