// Package apperror defines the application error taxonomy shared by
// services, middleware and the HTTP boundary. Services return *Error
// values; the HTTP layer maps Kind to a status code and a stable
// machine-readable code, never leaking internal detail for Internal errors.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

// Error is a typed application error with a stable code.
type Error struct {
	Kind    Kind
	Code    string            // stable machine-readable code, e.g. "USER_EXISTS"
	Message string            // safe to show to the caller
	Details map[string]string // optional field-level detail
	Err     error             // wrapped cause, server-side only
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// InvalidInput reports malformed or failed-validation input.
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: "INVALID_INPUT", Message: message}
}

// Unauthenticated reports a missing, invalid or expired credential.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: "UNAUTHENTICATED", Message: message}
}

// Forbidden reports an authenticated caller with insufficient role.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: message}
}

// NotFound reports an absent resource. Also used deliberately for
// membership masking so non-members cannot probe resource existence.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: message}
}

// Conflict reports a uniqueness violation with a per-case code.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// RateLimited reports an exceeded attempt cap.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Code: "RATE_LIMITED", Message: message}
}

// Internal wraps an unexpected failure. The message shown to callers is
// always generic; err carries the real cause for logging.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal error", Err: err}
}

// From extracts an *Error from err, wrapping unknown errors as Internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an application error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
