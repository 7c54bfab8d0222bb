package access

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the access core.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "not_found"
	CodeConflict        ErrorCode = "conflict"
	CodeUnavailable     ErrorCode = "unavailable"
	CodeInvalidArgument ErrorCode = "invalid_argument"
)

// Error is a domain error carrying a taxonomy code and a caller-facing reason.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFoundError returns a not-found error with the given reason.
func NotFoundError(reason string) error {
	return &Error{Code: CodeNotFound, Reason: reason}
}

// ConflictError returns a conflict error with the given reason.
func ConflictError(reason string) error {
	return &Error{Code: CodeConflict, Reason: reason}
}

// UnavailableError wraps a backend failure. An unavailable result means
// "cannot determine access", never "access denied".
func UnavailableError(reason string, err error) error {
	return &Error{Code: CodeUnavailable, Reason: reason, Err: err}
}

// InvalidArgumentError returns an invalid-argument error with the given reason.
func InvalidArgumentError(reason string) error {
	return &Error{Code: CodeInvalidArgument, Reason: reason}
}

func codeIs(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return codeIs(err, CodeNotFound) }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return codeIs(err, CodeConflict) }

// IsUnavailable reports whether err carries CodeUnavailable.
func IsUnavailable(err error) bool { return codeIs(err, CodeUnavailable) }

// IsInvalidArgument reports whether err carries CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return codeIs(err, CodeInvalidArgument) }
