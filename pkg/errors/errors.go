package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Class groups codes by how the order engine reacts to them.
type Class string

const (
	// ClassRejected failures are reported to the caller and never retried.
	ClassRejected Class = "rejected"
	// ClassConflict failures mean the target is missing or already terminal.
	// Expiry and webhook replays treat them as success.
	ClassConflict Class = "conflict"
	// ClassTransient failures rolled back the whole unit of work.
	ClassTransient Class = "transient"
)

// Metadata describes how a code is surfaced to API callers. Retryable tells
// the caller whether nothing was applied and the request may be repeated.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	Class          Class
}

func rejected(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Class: ClassRejected}
}

func conflict(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Class: ClassConflict}
}

func transient(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Retryable: true, Class: ClassTransient}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    rejected(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  rejected(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     rejected(http.StatusForbidden, "access denied", true),
	CodeStateConflict: rejected(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:   rejected(http.StatusConflict, "idempotency key reused", true),
	CodeNotFound:      conflict(http.StatusNotFound, "resource not found", false),
	CodeConflict:      conflict(http.StatusConflict, "conflict detected", false),
	CodeRateLimit:     transient(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", true),
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error carried from repositories up to the HTTP layer.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// Retryable reports whether the failure left no state behind.
func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return string(e.code) + ": " + e.message
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in err's chain carries
// code. A not-found wrapped as a dependency failure does not match NotFound.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// ClassOf classifies err by its outermost code. Untyped errors are transient.
func ClassOf(err error) Class {
	typed := As(err)
	if typed == nil {
		return ClassTransient
	}
	return MetadataFor(typed.Code()).Class
}

// IsClientError reports whether err is a typed error the caller caused.
func IsClientError(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	status := MetadataFor(typed.Code()).HTTPStatus
	return status >= 400 && status < 500
}
