package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for training operations.
var (
	// ErrValidation indicates a bad iteration, step or rate configuration.
	ErrValidation = errors.New("dynamo: invalid configuration")

	// ErrDivergence indicates integration produced a non-finite value.
	ErrDivergence = errors.New("dynamo: simulation diverged (NaN or Inf detected)")

	// ErrPersistence indicates the policy store failed.
	ErrPersistence = errors.New("dynamo: persistence failure")
)

// ValidationError reports the first configuration field that was rejected.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DivergenceError wraps a divergence with simulation context.
type DivergenceError struct {
	Iteration int
	Step      int
	State     State
	Detail    string
}

func (e *DivergenceError) Error() string {
	msg := fmt.Sprintf("simulation diverged at iteration %d step %d", e.Iteration, e.Step)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DivergenceError) Unwrap() error {
	return ErrDivergence
}

// PersistenceError carries the failing store operation and the underlying
// cause, which stays reachable through errors.Is and errors.As.
type PersistenceError struct {
	Op     string
	Handle string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %q: %v", e.Op, e.Handle, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
