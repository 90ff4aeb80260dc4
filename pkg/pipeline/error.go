package pipeline

import (
	"errors"
	"fmt"
)

// Behavioral error kinds surfaced by the engine. Spec errors are reported at
// parse/optimize time and the pipeline never starts; the rest surface from
// Advance and terminate the run.
var (
	ErrExhausted               = errors.New("document stream exhausted")
	ErrAlreadyBound            = errors.New("stage source already bound")
	ErrNotASink                = errors.New("stage does not accept a source")
	ErrInconsistentProjection  = errors.New("cannot mix included and excluded fields")
	ErrUnwindType              = errors.New("unwind target is not an array")
	ErrCursorInvalidated       = errors.New("cursor invalidated during yield")
	ErrCancelled               = errors.New("pipeline cancelled")
	ErrPipelinePosition        = errors.New("stage in invalid pipeline position")
	ErrUnknownStage            = errors.New("unknown pipeline stage")
	ErrProjectionAlreadyPushed = errors.New("cursor projection already pushed")
)

type ErrSpec = error

func NewSpecError(content string, err error) ErrSpec {
	return fmt.Errorf("invalid pipeline specification at %q: %w", content, err)
}

type ErrStage = error

func NewStageError(stage string, err error) ErrStage {
	return fmt.Errorf("stage %s failed: %w", stage, err)
}

type ErrPipeline = error

func NewPipelineError(err error) ErrPipeline {
	return fmt.Errorf("failed to evaluate pipeline: %w", err)
}
