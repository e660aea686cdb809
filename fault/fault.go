// Package fault defines the error kinds surfaced by the engine. Services
// wrap these sentinels with entity-specific detail; callers branch with
// errors.Is and the HTTP layer maps kinds to status codes.
package fault

import "errors"

var (
	// ErrValidation marks missing or malformed input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks an actor whose role or identity does not match the action.
	ErrAuthorization = errors.New("not authorized")
	// ErrStateConflict marks an operation whose precondition on current status
	// does not hold. Detection and prevention are the same guarded write.
	ErrStateConflict = errors.New("state conflict")
	// ErrFinancialIntegrity marks an attempt to create or move money that the
	// ledger constraints forbid, e.g. a second hold for the same job.
	ErrFinancialIntegrity = errors.New("financial integrity violation")
	// ErrNotFound marks a reference to a row that does not exist.
	ErrNotFound = errors.New("not found")
)
