package document

import (
	"errors"
	"fmt"
)

// Error classes. Match with errors.Is; the typed errors below carry detail.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrIO                = errors.New("i/o failure")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("already exists")
)

// ValidationError reports malformed input: a bad file, a bad rule/policy/action
// configuration, or a value that breaks an entity invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when an input file does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Path }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when a caller-chosen identifier is already taken.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s already exists", e.Kind, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IOError wraps a read failure that could not be downgraded locally.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// IllegalTransitionError is returned by ParsingTask when the transition table
// forbids the requested move. It is also a validation error.
type IllegalTransitionError struct {
	From ParseStatus
	To   ParseStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition || target == ErrValidation
}
