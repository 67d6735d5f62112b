package ledger

import (
	"errors"
	"fmt"
)

// Error kinds for the ledger and the components built on it. Handlers map
// these onto HTTP status codes; everything else propagates them unchanged,
// wrapped with the originating operation for diagnostics.

// ErrLedgerUnavailable means the ledger's own backing table is missing,
// e.g. an environment whose migrations never ran. It is deliberately
// distinct from an empty result set.
var ErrLedgerUnavailable = errors.New("ledger unavailable: audit_log table does not exist (run the ledger schema migration)")

// ValidationError is a caller mistake: malformed identifier, missing
// required field. Never worth retrying as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means a ledger record or a target entity is absent
type NotFoundError struct {
	Kind string // "ledger record", "entity", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError means a precondition failed: the caller should try a
// different action, not retry the same call.
type ConflictError struct {
	Code   string // machine-readable, e.g. "CANNOT_UNDO"
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// StorageError means the backing store rejected a read or write. The cause
// is attached for diagnostics; the caller may retry at their discretion.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
