// Package apierr classifies errors raised anywhere in the core into the
// taxonomy from the error handling design: Validation, NotFound,
// NotProvisioned, Transient, Permanent, Internal. The trigger endpoint and
// admin handlers use StatusCode to derive an HTTP status without each caller
// re-deriving it inline.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one error class from the taxonomy.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindNotProvisioned Kind = "not_provisioned"
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
	KindInternal      Kind = "internal"
)

// Error carries a Kind alongside the usual message/wrapped-cause error.
type Error struct {
	Kind    Kind
	Code    string // machine-readable, e.g. "INVALID_TRIGGER", "LEAD_NOT_FOUND"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind and machine-readable code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: cause.Error(), Cause: cause}
}

// Validation, NotFound, NotProvisioned, Transient, Permanent, Internal are
// convenience constructors for the common case of no further cause.
func Validation(code, message string) *Error     { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error       { return New(KindNotFound, code, message) }
func NotProvisioned(code, message string) *Error { return New(KindNotProvisioned, code, message) }
func Transient(code string, cause error) *Error  { return Wrap(KindTransient, code, cause) }
func Permanent(code string, cause error) *Error  { return Wrap(KindPermanent, code, cause) }
func Internal(code string, cause error) *Error   { return Wrap(KindInternal, code, cause) }

// StatusCode derives the HTTP status code for err.
// Errors that are not *Error default to 500.
func StatusCode(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotProvisioned:
		return http.StatusUnprocessableEntity
	case KindTransient, KindPermanent, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ClassifyCode returns the machine-readable code for err, or "" if err is
// not an *Error.
func ClassifyCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsTransient reports whether err should be retried by the queue's
// claim/retry loop rather than treated as a terminal job failure.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient
	}
	// Unclassified errors are treated as transient so that processors
	// written without apierr still get retry/backoff by default.
	return true
}
