// Package apperr defines the error kinds shared by the dmchat service and
// maps them onto HTTP status codes and client-facing messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks bad or missing input that the caller can correct.
	ErrValidation = errors.New("validation error")
	// ErrUnauthenticated marks a missing, invalid or expired identity token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound marks an unknown user or peer.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks an unavailable or failing store.
	ErrPersistence = errors.New("persistence error")
	// ErrTransport marks a failed realtime send. It is logged, never returned to HTTP callers.
	ErrTransport = errors.New("transport error")
	// ErrRateLimited marks a caller that exceeded its send budget.
	ErrRateLimited = errors.New("rate limited")
)

// Error carries a client-facing message alongside one of the sentinel kinds.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Validation returns an ErrValidation with the given message.
func Validation(message string) error {
	return &Error{Kind: ErrValidation, Message: message}
}

// Unauthenticated returns an ErrUnauthenticated with the given message.
func Unauthenticated(message string) error {
	return &Error{Kind: ErrUnauthenticated, Message: message}
}

// NotFound returns an ErrNotFound with the given message.
func NotFound(message string) error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// Persistence wraps a store failure.
func Persistence(message string, cause error) error {
	return &Error{Kind: ErrPersistence, Message: message, Cause: cause}
}

// Transport wraps a realtime delivery failure.
func Transport(message string, cause error) error {
	return &Error{Kind: ErrTransport, Message: message, Cause: cause}
}

// RateLimited returns an ErrRateLimited with the given message.
func RateLimited(message string) error {
	return &Error{Kind: ErrRateLimited, Message: message}
}

// Status maps an error onto the HTTP status code the API responds with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show to an API client. Store and
// unknown failures collapse to a generic message.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && !errors.Is(err, ErrPersistence) {
		return appErr.Message
	}
	if errors.Is(err, ErrPersistence) {
		return "storage unavailable"
	}
	return "internal server error"
}
