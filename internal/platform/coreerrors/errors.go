// Package coreerrors defines the typed error taxonomy that crosses every
// component boundary in the lifecycle core. No exceptional condition
// escapes as a panic; every fallible path returns one of these kinds.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core surfaces across
// its external boundary.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindConfigValidation Kind = "CONFIG_VALIDATION_ERROR"
	KindConfigNotFound   Kind = "CONFIG_NOT_FOUND"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindDependency       Kind = "DEPENDENCY_ERROR"
	KindMigration        Kind = "MIGRATION_ERROR"
	KindRollback         Kind = "ROLLBACK_ERROR"
	KindTimeout          Kind = "TIMEOUT_ERROR"
	KindConflict         Kind = "CONFLICT_ERROR"
	KindState            Kind = "STATE_ERROR"
	KindRollbackRequired Kind = "ROLLBACK_REQUIRED"
)

// Error is the core's single structured error type. Every component
// wraps failures in an Error rather than returning ad-hoc error values,
// so callers can branch on Kind and inspect Context without string
// matching.
type Error struct {
	Kind        Kind
	Message     string
	Context     map[string]any
	Recoverable bool
	Resolution  string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the wire-stable identifier for this error kind.
func (e *Error) Code() Kind { return e.Kind }

// With attaches a context key/value pair and returns the same error for
// fluent construction.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newErr(kind Kind, recoverable bool, format string, args ...any) *Error {
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	}
}

func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, true, format, args...)
}

func ConfigValidation(format string, args ...any) *Error {
	return newErr(KindConfigValidation, true, format, args...)
}

func ConfigNotFound(format string, args ...any) *Error {
	return newErr(KindConfigNotFound, true, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return newErr(KindPermissionDenied, false, format, args...)
}

func Dependency(format string, args ...any) *Error {
	return newErr(KindDependency, true, format, args...)
}

func Migration(cause error, format string, args ...any) *Error {
	e := newErr(KindMigration, true, format, args...)
	e.Cause = cause
	return e
}

func Rollback(cause error, format string, args ...any) *Error {
	e := newErr(KindRollback, false, format, args...)
	e.Cause = cause
	return e
}

func Timeout(format string, args ...any) *Error {
	return newErr(KindTimeout, true, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newErr(KindConflict, true, format, args...)
}

func State(format string, args ...any) *Error {
	return newErr(KindState, true, format, args...)
}

// RollbackRequired is terminal: the caller must not retry activation on
// this (moduleId, tenantId) pair until an operator intervenes.
func RollbackRequired(format string, args ...any) *Error {
	return newErr(KindRollbackRequired, false, format, args...)
}

// As reports whether err (or anything it wraps) is a *Error of the
// given kind, mirroring the stdlib errors.As idiom used throughout the
// core instead of type assertions.
func As(err error, kind Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
