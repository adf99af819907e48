package app

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationForbidden = errors.New("conversation forbidden")
	// ErrEmptyResponse marks a model call that produced no content.
	ErrEmptyResponse = errors.New("empty model response")
)

// Step identifies which stage of the pipeline failed terminally.
type Step string

const (
	StepImages Step = "image_processing"
	StepPrompt Step = "prompt_building"
	StepModel  Step = "model_call"
	StepSave   Step = "relational_save"
	StepVector Step = "vector_store"
)

// PipelineError is the terminal failure of one exchange. It carries the
// failed step, elapsed time, and the last successfully stored assistant
// reply (when one exists) so the caller can still answer with something.
type PipelineError struct {
	Step     Step
	Elapsed  time.Duration
	Fallback string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline step %s failed after %s: %v", e.Step, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
