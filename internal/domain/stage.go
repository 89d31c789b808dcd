package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StageName identifies one ordered step of an ItemTask.
type StageName string

const (
	StageQueued     StageName = "queued"
	StageConcept    StageName = "concept"
	StageValidation StageName = "validation"
	StageImage      StageName = "image"
	StageDedupe     StageName = "dedupe"
	StageStorage    StageName = "storage"
	StagePersist    StageName = "persist"
	StageDone       StageName = "done"
)

// Stages lists the pipeline stages in execution order.
var Stages = []StageName{StageConcept, StageValidation, StageImage, StageDedupe, StageStorage, StagePersist}

// StageStatus is the normalized result of one stage attempt.
type StageStatus string

const (
	StageStatusOk        StageStatus = "ok"
	StageStatusRetryable StageStatus = "retryable"
	StageStatusFatal     StageStatus = "fatal"
)

// StageOutcome records one attempt of one stage. The history of a task is
// append-only.
type StageOutcome struct {
	Stage          StageName     `json:"stage"`
	Attempt        int           `json:"attempt"`
	Status         StageStatus   `json:"status"`
	Payload        StagePayload  `json:"-"`
	Error          string        `json:"error,omitempty"`
	Latency        time.Duration `json:"latency_ns"`
	ShortCircuited bool          `json:"short_circuited,omitempty"`
	Exhausted      bool          `json:"exhausted,omitempty"`
	At             time.Time     `json:"at"`
}

// Failed reports whether the outcome ends the stage unsuccessfully.
func (o StageOutcome) Failed() bool {
	return o.Status == StageStatusFatal || o.Exhausted
}

type outcomeAlias StageOutcome

// MarshalJSON encodes the payload with its stage tag.
func (o StageOutcome) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(o.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		outcomeAlias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{outcomeAlias: outcomeAlias(o), Payload: raw})
}

// UnmarshalJSON decodes the tagged payload back into its concrete type.
func (o *StageOutcome) UnmarshalJSON(data []byte) error {
	var aux struct {
		*outcomeAlias
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	aux.outcomeAlias = (*outcomeAlias)(o)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodePayload(aux.Payload)
	if err != nil {
		return err
	}
	o.Payload = payload
	return nil
}

// StagePayload is the tagged union of stage results. Each variant validates
// itself at the stage boundary.
type StagePayload interface {
	Stage() StageName
	Validate() error
}

// Ingredient is a single line of a recipe.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// ConceptPayload is the drafted recipe.
type ConceptPayload struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary,omitempty"`
	MealType    string       `json:"meal_type,omitempty"`
	Cuisine     string       `json:"cuisine,omitempty"`
	Servings    int          `json:"servings"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []string     `json:"steps"`
	ImagePrompt string       `json:"image_prompt,omitempty"`
}

func (ConceptPayload) Stage() StageName { return StageConcept }

func (p ConceptPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("concept: title is required")
	}
	if len(p.Ingredients) == 0 {
		return errors.New("concept: at least one ingredient is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("concept: at least one step is required")
	}
	if p.Servings <= 0 {
		return errors.New("concept: servings must be positive")
	}
	return nil
}

// ValidationPayload carries nutrition scoring for a concept.
type ValidationPayload struct {
	Calories float64  `json:"calories"`
	Protein  float64  `json:"protein_g"`
	Carbs    float64  `json:"carbs_g"`
	Fat      float64  `json:"fat_g"`
	Score    float64  `json:"score"`
	Approved bool     `json:"approved"`
	Notes    []string `json:"notes,omitempty"`
}

func (ValidationPayload) Stage() StageName { return StageValidation }

func (p ValidationPayload) Validate() error {
	if p.Calories < 0 || p.Protein < 0 || p.Carbs < 0 || p.Fat < 0 {
		return errors.New("validation: macros must not be negative")
	}
	if p.Score < 0 || p.Score > 1 {
		return fmt.Errorf("validation: score %.2f out of range", p.Score)
	}
	return nil
}

// ImagePayload is a rendered image.
type ImagePayload struct {
	Data   []byte `json:"-"`
	MIME   string `json:"mime"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Bytes  int    `json:"bytes"`
}

func (ImagePayload) Stage() StageName { return StageImage }

func (p ImagePayload) Validate() error {
	if len(p.Data) == 0 {
		return errors.New("image: empty image data")
	}
	if !strings.HasPrefix(p.MIME, "image/") {
		return fmt.Errorf("image: unexpected mime %q", p.MIME)
	}
	return nil
}

// DedupePayload records the perceptual hash decision.
type DedupePayload struct {
	Hash          string `json:"hash,omitempty"`
	Accepted      bool   `json:"accepted"`
	MatchedTaskID string `json:"matched_task_id,omitempty"`
	Distance      int    `json:"distance,omitempty"`
}

func (DedupePayload) Stage() StageName { return StageDedupe }

func (p DedupePayload) Validate() error {
	if !p.Accepted && p.MatchedTaskID == "" {
		return errors.New("dedupe: rejection without matched task")
	}
	return nil
}

// StoragePayload is where the image ended up.
type StoragePayload struct {
	URL         string `json:"url"`
	Key         string `json:"key,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

func (StoragePayload) Stage() StageName { return StageStorage }

func (p StoragePayload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("storage: url is required")
	}
	return nil
}

// PersistPayload acknowledges the saved record.
type PersistPayload struct {
	RecordID string `json:"record_id"`
}

func (PersistPayload) Stage() StageName { return StagePersist }

func (p PersistPayload) Validate() error {
	if strings.TrimSpace(p.RecordID) == "" {
		return errors.New("persist: record id is required")
	}
	return nil
}

type taggedPayload struct {
	Stage StageName       `json:"stage"`
	Data  json.RawMessage `json:"data"`
}

// EncodePayload serializes a payload together with its stage tag.
func EncodePayload(p StagePayload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Stage(), err)
	}
	return json.Marshal(taggedPayload{Stage: p.Stage(), Data: data})
}

// DecodePayload restores the concrete payload named by the stage tag.
func DecodePayload(raw json.RawMessage) (StagePayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tagged taggedPayload
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode payload tag: %w", err)
	}
	var target StagePayload
	switch tagged.Stage {
	case StageConcept:
		var p ConceptPayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	case StageValidation:
		var p ValidationPayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	case StageImage:
		var p ImagePayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	case StageDedupe:
		var p DedupePayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	case StageStorage:
		var p StoragePayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	case StagePersist:
		var p PersistPayload
		if err := json.Unmarshal(tagged.Data, &p); err != nil {
			return nil, err
		}
		target = p
	default:
		return nil, fmt.Errorf("unknown payload stage %q", tagged.Stage)
	}
	return target, nil
}

// TaskID builds the stable id of the index-th task of a job.
func TaskID(jobID string, index int) string {
	return fmt.Sprintf("%s-%02d", jobID, index+1)
}
