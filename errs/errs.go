// Package errs provides structured error types and helpers shared across the reactive toolkit.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category raised by a toolkit component.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing key or resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates a backing service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeClosed indicates an operation on a component that was already torn down.
	CodeClosed Code = "closed"
)

// E captures structured error information produced across the reactive stack.
type E struct {
	Scope   string
	Code    Code
	Key     string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the originating scope and error code.
// Scope names the component and operation, e.g. "mirror/watch" or "relay/subscribe".
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:   strings.TrimSpace(scope),
		Code:    code,
		Key:     "",
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithKey records the storage key the failing operation addressed.
func WithKey(key string) Option {
	trimmed := strings.TrimSpace(key)
	return func(e *E) {
		e.Key = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Key != "" {
		parts = append(parts, "key="+strconv.Quote(e.Key))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target carries the same scope and code. It lets callers match
// sentinel envelopes with errors.Is without comparing messages.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || e == nil || other == nil {
		return false
	}
	if other.Scope != "" && other.Scope != e.Scope {
		return false
	}
	return other.Code == e.Code
}

// IsCode reports whether err (or anything it wraps) is an envelope with the given code.
func IsCode(err error, code Code) bool {
	for err != nil {
		e, ok := err.(*E)
		if ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
