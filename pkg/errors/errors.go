// Package errors defines the service's error taxonomy: sentinel errors, an
// AppError carrying an HTTP status, typed errors that keep internal detail for
// logging, and the mapping from any error to a status code and a stable wire
// code.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrIndexQuery      = errors.New("index query failed")
	ErrStoreCorruption = errors.New("stored payload corrupt")
	ErrTimeout         = errors.New("operation timed out")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
)

// Wire codes returned in the "error" field of JSON error bodies.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeTimeout      = "TIMEOUT"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL"
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IndexQueryError records the query text that the index failed to execute.
type IndexQueryError struct {
	Query string
	Err   error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("%s for %q: %v", ErrIndexQuery, e.Query, e.Err)
}

func (e *IndexQueryError) Unwrap() []error { return []error{ErrIndexQuery, e.Err} }

// CorruptionError records the identifier whose stored bytes failed to decode.
type CorruptionError struct {
	ID  uint32
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s for id %d: %v", ErrStoreCorruption, e.ID, e.Err)
}

func (e *CorruptionError) Unwrap() []error { return []error{ErrStoreCorruption, e.Err} }

// FromContext converts a context cancellation into ErrTimeout, keeping the
// original cause in the chain. Other errors pass through unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable wire code for err.
func Code(err error) string {
	switch HTTPStatusCode(err) {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusRequestTimeout:
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Expected reports whether err belongs to the expected, caller-facing part of
// the taxonomy that is handled at the boundary without anomaly logging.
func Expected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidInput)
}
