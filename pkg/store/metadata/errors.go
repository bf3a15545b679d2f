package metadata

import "errors"

// StoreError represents a domain error from metadata store operations.
//
// These are business-logic errors (file not found, duplicate name, out of
// order chunk) as opposed to infrastructure errors (disk failure). Command
// handlers translate StoreError codes to wire-level ERROR responses.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description. Messages are sent to
	// clients, so they must not leak whether a foreign resource exists.
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// ErrorCode represents the category of a metadata store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested file or directory does not exist,
	// or is not owned by the caller. The two cases are deliberately
	// indistinguishable.
	ErrNotFound ErrorCode = iota

	// ErrConflict indicates a name collision: duplicate sibling directory,
	// duplicate complete file name in a directory, or duplicate username.
	ErrConflict

	// ErrNotEmpty indicates a directory delete without recursive on a
	// non-empty directory.
	ErrNotEmpty

	// ErrStateViolation indicates a transfer protocol violation: chunk out
	// of order, complete before init, or an operation on a file in the
	// wrong transfer state.
	ErrStateViolation

	// ErrInvalidArgument indicates invalid parameters: empty name, negative
	// size, malformed ID.
	ErrInvalidArgument

	// ErrIO indicates an error reading or writing the backing store.
	ErrIO
)

// NewNotFoundError creates a StoreError for a missing or foreign entity.
// The message names only the entity type, never ownership.
func NewNotFoundError(entityType string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: entityType + " not found"}
}

// NewConflictError creates a StoreError for a name collision.
func NewConflictError(message string) *StoreError {
	return &StoreError{Code: ErrConflict, Message: message}
}

// NewNotEmptyError creates a StoreError for a non-empty directory delete.
func NewNotEmptyError() *StoreError {
	return &StoreError{Code: ErrNotEmpty, Message: "directory is not empty"}
}

// NewStateViolationError creates a StoreError for a transfer state
// violation. The message should carry a recovery hint for the client.
func NewStateViolationError(message string) *StoreError {
	return &StoreError{Code: ErrStateViolation, Message: message}
}

// NewInvalidArgumentError creates a StoreError for invalid parameters.
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message}
}

// NewIOError creates a StoreError wrapping a backing-store failure.
func NewIOError(message string) *StoreError {
	return &StoreError{Code: ErrIO, Message: message}
}

// CodeOf extracts the ErrorCode from an error, returning ok=false when the
// error is not a StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code, true
}

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsConflict reports whether err is a StoreError with ErrConflict.
func IsConflict(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrConflict
}
