package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure the pipeline surfaces.
var (
	// ErrValidation indicates malformed input to a step (empty question,
	// missing specification field). Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrBindingMissing indicates a prompt template referenced a binding
	// that was not supplied.
	ErrBindingMissing = errors.New("prompt binding missing")

	// ErrSchemaViolation indicates the model output did not conform to the
	// requested result shape.
	ErrSchemaViolation = errors.New("output schema violation")

	// ErrUnknownPreset indicates a preset name with no registration.
	ErrUnknownPreset = errors.New("unknown preset")

	// ErrTimeout indicates a bounded external call exceeded its deadline.
	// Caller-retryable.
	ErrTimeout = errors.New("external call timed out")

	// ErrRetrieval indicates every query in a retrieval batch failed.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
)

// StepError attributes a failure to a named pipeline step and, where
// applicable, the named sub-operation inside it.
type StepError struct {
	Step      string
	Operation string
	Err       error
}

func (e *StepError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("step %q: operation %q: %v", e.Step, e.Operation, e.Err)
	}
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step wraps err with step/operation attribution. Existing attribution is
// preserved so the innermost failing operation wins.
func Step(step, operation string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Operation: operation, Err: err}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
