// Package errors provides error handling for chime.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing surfaces
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Common sentinel errors for use across chime.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested job or record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidExpression indicates a schedule expression failed validation
	ErrInvalidExpression = New("invalid schedule expression")

	// ErrInvalidStatus indicates a job state transition is not allowed
	// from the job's current status
	ErrInvalidStatus = New("invalid job status")

	// ErrCompile indicates a job body failed to compile
	ErrCompile = New("job body failed to compile")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequest checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsInvalidStatus checks if an error is or wraps ErrInvalidStatus
func IsInvalidStatus(err error) bool {
	return err != nil && Is(err, ErrInvalidStatus)
}

// NewNotFoundf creates a not-found error with a formatted message
func NewNotFoundf(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestf creates an invalid-request error with a formatted message
func NewInvalidRequestf(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
