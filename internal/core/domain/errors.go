package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by the upstream source when no archive
// exists for a unit. It is a terminal per-unit failure, not a
// transient one: retrying cannot make the resource appear.
var ErrNotFound = errors.New("resource not found for unit")

// TransientError marks an error as expected to clear on retry
// (network, timeout, rate limit).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transientf wraps a formatted error as transient.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// ValidationError reports stage output outside the expected band.
// It is never retried blindly: the same input produces the same
// output, so the unit is surfaced as failed for inspection.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InfraError is fatal to the whole run, not just a unit: the
// checkpoint medium is unwritable, or the sink is unreachable after
// the retry policy is exhausted.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }

// AuthError signals expired credentials from an external
// collaborator. Retries cannot succeed, so the run halts immediately.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// ErrorAction tells the retry policy and the orchestrator what to do
// with a failed operation.
type ErrorAction int

const (
	// ActionRetry re-attempts the operation with backoff.
	ActionRetry ErrorAction = iota
	// ActionFail stops the unit without further attempts.
	ActionFail
	// ActionAbort terminates the whole run after a checkpoint flush.
	ActionAbort
)

// ClassifyError maps an error to its action. Typed errors win; errors
// crossing a collaborator boundary untyped fall back to ordered
// keyword matching, first match wins. The default is retry, matching
// how network and 5xx errors usually present.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	var infraErr *InfraError
	var authErr *AuthError
	var validationErr *ValidationError
	var transientErr *TransientError
	switch {
	case errors.As(err, &infraErr), errors.As(err, &authErr):
		return ActionAbort
	case errors.As(err, &validationErr), errors.Is(err, ErrNotFound):
		return ActionFail
	case errors.As(err, &transientErr):
		return ActionRetry
	}

	s := strings.ToLower(err.Error())

	if strings.Contains(s, "credential") || strings.Contains(s, "token expired") ||
		strings.Contains(s, "authentication") {
		return ActionAbort
	}
	if strings.Contains(s, "404") || strings.Contains(s, "not found") {
		return ActionFail
	}
	return ActionRetry
}
