// Package apperror defines the typed failures returned at the engine's
// operation boundary so callers can tell "not found" apart from
// "already dispensed" without matching on message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindInvalidTransition   Kind = "invalid_transition"
	KindEmptyQueue          Kind = "empty_queue"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Error is a failure with a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func EmptyQueue(format string, args ...interface{}) *Error {
	return &Error{Kind: KindEmptyQueue, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failure of the durable store or another collaborator.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound, KindEmptyQueue:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidTransition, KindConcurrencyConflict:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
