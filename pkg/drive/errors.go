package drive

import (
	"errors"
	"fmt"
)

// Error represents a domain error from drive operations.
//
// These are business logic errors (missing file, empty folder name, broken
// invariant) as opposed to infrastructure errors (disk, network). Outer
// layers translate the Code to their own vocabulary (HTTP status, exit code).
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// ID is the entity the error refers to, if any
	ID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// ErrorCode represents the category of a drive error.
type ErrorCode int

const (
	// ErrValidation indicates the request itself is malformed
	// Examples: empty folder name, negative size, deleting "root"
	ErrValidation ErrorCode = iota

	// ErrNotFound indicates the referenced file or folder does not exist
	ErrNotFound

	// ErrInvariantViolation indicates a write would break a structural
	// invariant (duplicate id, dangling parent). This signals a programming
	// error in the caller; the store is left unchanged.
	ErrInvariantViolation

	// ErrNoSpace indicates the quota would be exceeded
	ErrNoSpace
)

// String returns the code name used in logs and API problem types.
func (c ErrorCode) String() string {
	switch c {
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrInvariantViolation:
		return "invariant_violation"
	case ErrNoSpace:
		return "no_space"
	default:
		return "unknown"
	}
}

// NewValidationError returns an ErrValidation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError returns an ErrNotFound error for the given entity.
func NewNotFoundError(kind, id string) *Error {
	return &Error{Code: ErrNotFound, Message: kind + " not found", ID: id}
}

// NewInvariantViolation returns an ErrInvariantViolation error.
func NewInvariantViolation(id, format string, args ...any) *Error {
	return &Error{Code: ErrInvariantViolation, Message: fmt.Sprintf(format, args...), ID: id}
}

// CodeOf extracts the ErrorCode from err.
// The boolean is false when err is not (and does not wrap) a *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsValidation reports whether err is an ErrValidation error.
func IsValidation(err error) bool { return hasCode(err, ErrValidation) }

// IsNotFound reports whether err is an ErrNotFound error.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsInvariantViolation reports whether err is an ErrInvariantViolation error.
func IsInvariantViolation(err error) bool { return hasCode(err, ErrInvariantViolation) }

// IsNoSpace reports whether err is an ErrNoSpace error.
func IsNoSpace(err error) bool { return hasCode(err, ErrNoSpace) }
