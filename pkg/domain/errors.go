package domain

import "errors"

// Error kinds surfaced to the API boundary. All are recoverable by the
// caller; none is fatal to the process.
var (
	// ErrNotFound indicates the entity or its parent does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller is not the resolved owner.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientCredits indicates a debit would drive the balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidStateTransition indicates the job is not in a state that
	// allows the requested transition.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrValidation indicates a malformed enum, non-positive amount, or
	// unrecognized file type.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict indicates the optimistic retry budget was
	// exhausted without a clean commit.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorageUnavailable wraps unexpected persistence-layer failures.
	// The core does not retry these; that policy belongs to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
