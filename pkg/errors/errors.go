// Package errors carries the registry's error kinds and their HTTP statuses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// StatusCode represents an HTTP status code error
type StatusCode int

// Error implements error
func (status StatusCode) Error() string {
	return http.StatusText(int(status))
}

// Status builds a sentinel whose chain ends in the given HTTP status.
func Status(code int, kind string) *Error {
	return Wrap(StatusCode(code)).Reason(kind)
}

var (
	Invalid         *Error = Status(http.StatusBadRequest, "VALIDATION_ERROR")
	Unauthorized    *Error = Status(http.StatusUnauthorized, "UNAUTHORIZED")
	PaymentRequired *Error = Status(http.StatusPaymentRequired, "PAYMENT_REQUIRED")
	Forbidden       *Error = Status(http.StatusForbidden, "FORBIDDEN")
	NotFound        *Error = Status(http.StatusNotFound, "NOT_FOUND")
	Conflict        *Error = Status(http.StatusConflict, "CONFLICT")
	TooLarge        *Error = Status(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
	Unprocessable   *Error = Status(http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY")
	Internal        *Error = Status(http.StatusInternalServerError, "INTERNAL_ERROR")
	BadGateway      *Error = Status(http.StatusBadGateway, "BAD_GATEWAY")
	Unavailable     *Error = Status(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the machine readable code returned to clients
	Kind string `json:"code"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"details,omitempty"`

	cause error
	// parent is the error this copy was derived from; Reason starts a new line.
	parent *Error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func Wrap(err error) *Error {
	return &Error{cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		if _, ok := e.cause.(StatusCode); !ok {
			str += fmt.Sprintf(" (%s)", e.cause)
		}
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	err.parent = nil
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy whose cause is placed in front of the existing chain.
// The status of the receiver is kept so HTTPStatus keeps working.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.parent = e
	if e.cause != nil {
		err.cause = &chained{cause: cause, next: e.cause}
	} else {
		err.cause = cause
	}
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.parent = e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.parent = e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is.
// An error matches the sentinel it was derived from through Explain, Wrap or
// WithField, or an error with the same kind and message.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	other, ok := target.(*Error)
	if !ok || other == nil {
		return false
	}
	for cur := e; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return other.Kind == e.Kind && other.Message == e.Message
}

// HTTPStatus resolves the HTTP status carried by err; unknown errors are 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var code StatusCode
	if As(err, &code) {
		return int(code)
	}
	return http.StatusInternalServerError
}

// chained keeps both the wrapped cause and the original status reachable.
type chained struct {
	cause error
	next  error
}

func (c *chained) Error() string { return c.cause.Error() }

func (c *chained) Unwrap() []error { return []error{c.next, c.cause} }
