// Package domainerrors provides coded domain errors.
//
// Services translate infrastructure sentinels (pkg/platform/sentinel) into
// these coded errors so transports and callers can branch on Code without
// string matching. Codes classify the failure, messages stay human-readable.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks validation failures (bad quantity, missing reason).
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks lookups of entities that do not exist.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized marks operations attempted by a non-owner.
	CodeUnauthorized Code = "unauthorized"
	// CodeConflict marks state conflicts (already retired, wrong status).
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks broken entity invariants.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeAnchorFailed marks on-chain operations that exhausted retries.
	CodeAnchorFailed Code = "anchor_failed"
	// CodeUnavailable marks temporarily unavailable collaborators.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected internal failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
// Returns nil if err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
