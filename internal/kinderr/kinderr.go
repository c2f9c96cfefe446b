// Package kinderr classifies engine errors into the abstract kinds of
// spec §7, so callers at any layer can branch on "why" without string
// matching. Every kind maps to exactly one Go error value via errors.As.
package kinderr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds a workflow or step failure can
// carry.
type Kind string

const (
	// Retryable marks a transient failure inside a step; the runtime
	// retries up to the step's max_retries with configured backoff.
	Retryable Kind = "retryable"
	// Fatal marks an unrecoverable step failure; recorded as
	// step.failed and propagated into the workflow body on next tick.
	Fatal Kind = "fatal"
	// Cancellation marks cooperative cancellation raised into the body
	// at a checkpoint.
	Cancellation Kind = "cancellation"
	// RecoveryExhausted marks a run or step that reached
	// max_recovery_attempts.
	RecoveryExhausted Kind = "recovery_exhausted"
	// Conflict marks an optimistic-concurrency race loss; internal,
	// retried automatically by the caller.
	Conflict Kind = "conflict"
	// Validation marks malformed input at an API boundary.
	Validation Kind = "validation"
	// NestingLimit marks a child spawn that exceeded nesting.limit.
	NestingLimit Kind = "nesting_limit"
)

// Error wraps an underlying error with its abstract kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	if !errors.As(err, &ke) {
		return false
	}

	return ke.Kind == kind
}

// KindOf returns the abstract kind carried by err, and false if err (or
// its chain) carries none.
func KindOf(err error) (Kind, bool) {
	var ke *Error
	if !errors.As(err, &ke) {
		return "", false
	}

	return ke.Kind, true
}
