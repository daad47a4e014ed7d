// Package apperr implements the closed error taxonomy used throughout the
// ELT engine. Classification happens at the layer with the most context
// (OAuth client for HTTP, storage gateway for SQL, transform engine for
// mapping) and is carried unchanged by every layer above it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is one of a small closed set of error classes, independent of
// transport, persisted verbatim into sync_logs.error_class.
type Class string

const (
	ClassAuth             Class = "AuthError"
	ClassRateLimit        Class = "RateLimit"
	ClassCursorInvalid    Class = "CursorInvalid"
	ClassServerTransient  Class = "ServerTransient"
	ClassNetworkTransient Class = "NetworkTransient"
	ClassClientPermanent  Class = "ClientPermanent"
	ClassValidation       Class = "ValidationError"
	ClassNotFound         Class = "NotFound"
	ClassConflict         Class = "Conflict"
	ClassNone             Class = ""
)

// Retryable reports whether the scheduler should reschedule a job that
// failed with this class.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimit, ClassServerTransient, ClassNetworkTransient:
		return true
	default:
		return false
	}
}

// Error is a classified application error, optionally wrapping a cause.
type Error struct {
	Class   Class
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no cause.
func New(class Class, message string) *Error {
	return &Error{Class: class, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(class Class, message string, cause error) *Error {
	return &Error{Class: class, Message: message, Cause: cause}
}

// Sentinel instances for errors.Is comparisons where no extra context is
// needed.
var (
	ErrAuth             = New(ClassAuth, "source credentials are unusable")
	ErrRateLimit        = New(ClassRateLimit, "provider rate limited the request")
	ErrCursorInvalid    = New(ClassCursorInvalid, "incremental cursor is no longer valid")
	ErrServerTransient  = New(ClassServerTransient, "provider returned a transient error")
	ErrNetworkTransient = New(ClassNetworkTransient, "network transport error")
	ErrClientPermanent  = New(ClassClientPermanent, "request rejected as malformed or unsupported")
	ErrValidation       = New(ClassValidation, "record failed validation")
	ErrNotFound         = New(ClassNotFound, "resource not found")
	ErrConflict         = New(ClassConflict, "resource conflict")
)

// Is reports whether err is (or wraps) a classified error of the given
// class. It does not require pointer identity, only the Class field.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}

// ClassOf extracts the Class from an error chain, or ClassNone if the error
// (or any wrapped cause) is not an *Error.
func ClassOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	return ClassNone
}

// NotFound builds a not-found error naming the entity and id.
func NotFound(entity, id string) *Error {
	return New(ClassNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

// HTTPStatus maps a Class to the HTTP status code the API layer should
// respond with.
func HTTPStatus(class Class) int {
	switch class {
	case ClassAuth:
		return http.StatusUnauthorized
	case ClassRateLimit:
		return http.StatusTooManyRequests
	case ClassValidation, ClassCursorInvalid:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	case ClassConflict:
		return http.StatusConflict
	case ClassClientPermanent:
		return http.StatusBadRequest
	case ClassServerTransient, ClassNetworkTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
