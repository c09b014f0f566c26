package domain

import (
	"errors"
	"fmt"
	"time"
)

// Storage sentinels. Stores return these; components wrap them into the typed errors below.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate")
	ErrVersionConflict = errors.New("concurrent modification")

	ErrUnauthorizedSigner = errors.New("unauthorized signer")
)

// ValidationError reports bad input. Never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error   { return e.Err }
func (e *ValidationError) Retryable() bool { return false }

// StateConflictError reports an operation illegal in the entity's current state,
// including uniqueness violations.
type StateConflictError struct {
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *StateConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conflict: %s", e.Entity, e.Message)
	}
	return fmt.Sprintf("%s %s conflict: %s", e.Entity, e.ID, e.Message)
}

func (e *StateConflictError) Unwrap() error   { return e.Err }
func (e *StateConflictError) Retryable() bool { return false }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Unwrap() error   { return ErrNotFound }
func (e *NotFoundError) Retryable() bool { return false }

// StageExecutionError is returned when a pipeline stage fails after all attempts.
type StageExecutionError struct {
	Stage    PipelineStage
	Attempts int
	Err      error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageExecutionError) Unwrap() error   { return e.Err }
func (e *StageExecutionError) Retryable() bool { return false }

// TimeoutError is an attempt that exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string   { return fmt.Sprintf("%s timed out after %s", e.Op, e.After) }
func (e *TimeoutError) Retryable() bool { return true }

func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(entity, id, format string, args ...any) error {
	return &StateConflictError{Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Wrap translates storage sentinels into typed errors for entity/id. Other errors pass through.
func Wrap(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return NotFound(entity, id)
	case errors.Is(err, ErrDuplicate):
		return &StateConflictError{Entity: entity, ID: id, Message: "already exists", Err: err}
	case errors.Is(err, ErrVersionConflict):
		return &StateConflictError{Entity: entity, ID: id, Message: "modified concurrently", Err: err}
	}
	return err
}

// IsRetryable reports whether err may succeed on another attempt.
// Errors without a retryable tag are treated as transient.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *StateConflictError
	return errors.As(err, &c)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
