package models

import "errors"

// Error taxonomy shared by every engine component. Callers match with
// errors.Is; each component wraps these with operation detail.
var (
	// ErrNotFound indicates an unknown context, request, or token.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a sequence race or a duplicate pending request.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates a tenant or role isolation violation.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a malformed UI response or resume payload.
	ErrValidation = errors.New("validation failed")
	// ErrExpired indicates a stale token or UI request.
	ErrExpired = errors.New("expired")
	// ErrAgentFailure indicates a downstream agent error, retryable per
	// phase configuration.
	ErrAgentFailure = errors.New("agent failure")
	// ErrFatal indicates a non-retryable failure that ends the task.
	ErrFatal = errors.New("fatal")
)
