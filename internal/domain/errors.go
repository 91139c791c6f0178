// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable name of an error category.
// Kinds are safe to expose to API clients; error messages are not.
type Kind string

// Error kinds exposed to clients and recorded on failed tasks.
const (
	KindConflict          Kind = "conflict"
	KindBackpressure      Kind = "backpressure"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindTaskFault         Kind = "task_fault"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindShutdown          Kind = "shutdown"
	KindTaskFinished      Kind = "task_finished"
	KindInvalidTransition Kind = "invalid_transition"
	KindInternal          Kind = "internal"
)

// Common domain errors used across the application.
var (
	// ErrConflict is returned when a submission derives a task ID that is
	// already in use. Callers must resubmit with a distinguishing name.
	ErrConflict = errors.New("task already exists")

	// ErrBackpressure is returned when both the executor pool and the
	// admission queue are full. Callers should retry with backoff.
	ErrBackpressure = errors.New("task capacity exhausted")

	// ErrNotFound is returned when a task ID is unknown.
	ErrNotFound = errors.New("task not found")

	// ErrValidation is returned when a request fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrTaskFault is recorded when a work function returns an error or panics.
	ErrTaskFault = errors.New("task fault")

	// ErrTimeout is recorded when a task exceeds its wall-clock deadline.
	ErrTimeout = errors.New("task timed out")

	// ErrCancelled is recorded when a caller cancels a task.
	ErrCancelled = errors.New("task cancelled")

	// ErrShutdown is recorded on tasks still queued when the engine stops.
	ErrShutdown = errors.New("engine shut down")

	// ErrTaskFinished is returned when an operation targets a task that is
	// already in a terminal state.
	ErrTaskFinished = errors.New("task already finished")

	// ErrInvalidTransition is returned when a store mutation would violate
	// the task state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
)

var kindsByError = []struct {
	err  error
	kind Kind
}{
	{ErrConflict, KindConflict},
	{ErrBackpressure, KindBackpressure},
	{ErrNotFound, KindNotFound},
	{ErrValidation, KindValidation},
	{ErrTaskFault, KindTaskFault},
	{ErrTimeout, KindTimeout},
	{ErrCancelled, KindCancelled},
	{ErrShutdown, KindShutdown},
	{ErrTaskFinished, KindTaskFinished},
	{ErrInvalidTransition, KindInvalidTransition},
}

// KindOf returns the Kind of the first domain error found in err's chain,
// or KindInternal if err wraps none of them.
func KindOf(err error) Kind {
	for _, k := range kindsByError {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ValidationError describes a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError wrapping ErrValidation
// unless a more specific cause is given.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports ErrValidation for every ValidationError so that callers can
// branch on the category regardless of the specific cause.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
