package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures for recovery decisions.
type ErrorKind string

// Adapter failure kinds.
const (
	KindAuth           ErrorKind = "auth"
	KindRateLimit      ErrorKind = "rate_limit"
	KindContextLength  ErrorKind = "context_length"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnavailable    ErrorKind = "unavailable"
	KindCanceled       ErrorKind = "canceled"
	KindUnknown        ErrorKind = "unknown"
)

// Error is a provider wire failure or malformed response. The session
// engine converts it to execution_end{stop_reason=error} plus an error event.
type Error struct {
	Adapter string
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("adapter %s: %s: %s", e.Adapter, e.Kind, e.Message)
	}
	return fmt.Sprintf("adapter %s: %s", e.Adapter, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an adapter error wrapping cause.
func NewError(adapterID string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Adapter: adapterID, Kind: kind, Message: msg, Cause: cause}
}

// IsRetryable reports whether the error is transient and the request can be
// retried after a delay.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindRateLimit || ae.Kind == KindUnavailable
	}
	return false
}
