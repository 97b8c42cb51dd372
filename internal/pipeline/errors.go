package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInputMissing is returned when a step's required key is absent from state.
	ErrInputMissing = errors.New("pipeline: required input missing")

	// ErrGeneration wraps any failure of the generation capability.
	ErrGeneration = errors.New("pipeline: generation failed")

	// ErrStepNotFound is returned for an unregistered step ID.
	ErrStepNotFound = errors.New("pipeline: step not found")

	// ErrPhaseNotFound is returned when no step belongs to the requested phase.
	ErrPhaseNotFound = errors.New("pipeline: phase not found")

	// ErrForwardReference is returned at registration when a step requires a
	// key produced only by itself or a later step.
	ErrForwardReference = errors.New("pipeline: forward reference")

	ErrDuplicateStep     = errors.New("pipeline: duplicate step id")
	ErrDuplicateProducer = errors.New("pipeline: key produced by more than one writer")
	ErrPhaseOrder        = errors.New("pipeline: phase decreases with step id")
	ErrStepOrder         = errors.New("pipeline: step registered out of id order")

	// ErrWriterConflict is returned when a step writes a key owned by another writer.
	ErrWriterConflict = errors.New("pipeline: key owned by another writer")

	// ErrUnusable is returned by Lookup for a value whose output could not be parsed.
	ErrUnusable = errors.New("pipeline: value unusable")

	// ErrNoStateLoader is returned by Resume when the orchestrator has no loader.
	ErrNoStateLoader = errors.New("pipeline: no state loader configured")
)

// InputValidationError lists the keys a step needed but did not find.
type InputValidationError struct {
	StepID  int
	Step    string
	Missing []Key
}

func (e *InputValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		names[i] = string(k)
	}
	return fmt.Sprintf("pipeline: step %d (%s) missing input %s", e.StepID, e.Step, strings.Join(names, ", "))
}

func (e *InputValidationError) Unwrap() error { return ErrInputMissing }

// GenerationError carries the generator's failure for one step.
type GenerationError struct {
	StepID int
	Step   string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("pipeline: step %d (%s) generation: %v", e.StepID, e.Step, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{ErrGeneration, e.Err} }

// NotFoundError names the step ID that was not registered.
type NotFoundError struct {
	StepID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pipeline: step %d not found", e.StepID)
}

func (e *NotFoundError) Unwrap() error { return ErrStepNotFound }

// RegistrationError explains why a binding was rejected.
type RegistrationError struct {
	StepID int
	Key    Key
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("register step %d: key %q: %v", e.StepID, e.Key, e.Err)
	}
	return fmt.Sprintf("register step %d: %v", e.StepID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
