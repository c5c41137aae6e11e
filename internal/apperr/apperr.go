// Package apperr defines the closed error taxonomy used across all public
// boundaries. Every fallible operation that reaches a handler resolves to
// exactly one Kind; handlers never invent their own status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the nine error categories.
type Kind string

const (
	Unauthenticated   Kind = "UNAUTHENTICATED"
	Forbidden         Kind = "FORBIDDEN"
	InvalidInput      Kind = "INVALID_INPUT"
	InvalidTransition Kind = "INVALID_TRANSITION"
	NotFound          Kind = "NOT_FOUND"
	RateLimited       Kind = "RATE_LIMITED"
	DeadlineExceeded  Kind = "DEADLINE_EXCEEDED"
	ResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	Internal          Kind = "INTERNAL"
)

// Error carries a Kind, a client-safe message and an optional wrapped cause.
// The cause is for server logs only and never reaches the response body.
type Error struct {
	Kind    Kind
	Message string
	Details []string // e.g. password policy violation codes
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause for server-side logging.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails returns a copy carrying machine-readable detail codes.
func (e *Error) WithDetails(details ...string) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// KindOf resolves any error to a Kind. Context deadline errors map to
// DEADLINE_EXCEEDED; everything unrecognized is INTERNAL.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return Internal
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case InvalidInput:
		return http.StatusBadRequest
	case InvalidTransition:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case ResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for an error. Unrecognized errors
// collapse to a generic message so internals never leak.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && KindOf(err) != Internal {
		return ae.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request deadline exceeded"
	}
	return "internal server error"
}
