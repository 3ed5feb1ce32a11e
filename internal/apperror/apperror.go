// Package apperror defines the application-level error vocabulary.
//
// Every layer below the HTTP handlers reports failures as an *AppError that
// wraps one of the sentinel errors below. Handlers never inspect messages;
// they ask errors.Is(err, apperror.ErrNotFound) and pick a status code.
//
// KEY CONCEPTS:
//   - Sentinel errors are package-level values compared by identity.
//   - *AppError implements Unwrap(), so errors.Is() walks through it to the sentinel.
//   - Wrapping with fmt.Errorf("...: %w", err) keeps the chain intact.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInternal        = errors.New("internal error")
	ErrUpstream        = errors.New("upstream error")
	ErrUnavailable     = errors.New("service unavailable")
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: JSON field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound covers both "does not exist" and "belongs to someone else".
// Callers must not be able to tell the two apart.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation, e.g. a login that is already taken.
func Conflict(resource, key string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s already exists: %s", resource, key),
	}
}

// Unauthenticated means the request carries no usable identity.
// HTTP handlers map this to 401 Unauthorized.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Internal hides the underlying cause behind a generic message.
// The cause should be logged by the caller before it is discarded.
func Internal() *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: "An internal error occurred",
	}
}

// Upstream reports a failed call to a third-party service (HTTP 502).
func Upstream(service string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrUpstream, cause),
		Message: fmt.Sprintf("%s request failed", service),
	}
}

// Unavailable reports that a dependency is temporarily refusing calls (HTTP 503).
func Unavailable(service string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
	}
}
