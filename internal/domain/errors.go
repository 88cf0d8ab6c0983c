package domain

import "errors"

// Error kinds returned by the matching and settlement engines. Callers match
// with errors.Is; the HTTP layer maps each kind to a status code.
var (
	// ErrValidation indicates malformed input (non-positive amount or price,
	// expiry in the past, unknown enum value).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown order, settlement, dispute or task ID.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an actor mismatch (e.g. cancelling someone
	// else's order).
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState indicates an operation that is illegal for the entity's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict indicates a concurrent mutation was detected (version
	// mismatch, duplicate dispute filing, cancel racing a match).
	ErrConflict = errors.New("conflict")
)
