package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wrapped copies
// still match the predefined kinds below.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Registration outcome kinds. Each is an expected, user-facing result.
var (
	ErrWrongPhase           = New("WRONG_PHASE", http.StatusConflict, "operation not allowed in the current enrollment phase")
	ErrNotActiveStanding    = New("NOT_ACTIVE_STANDING", http.StatusForbidden, "student is not in active academic standing")
	ErrPendingLeaveConflict = New("PENDING_LEAVE_CONFLICT", http.StatusForbidden, "a leave of absence overlaps the term")
	ErrSeatUnavailable      = New("SEAT_UNAVAILABLE", http.StatusConflict, "no seats available")
	ErrCreditCapExceeded    = New("CREDIT_CAP_EXCEEDED", http.StatusUnprocessableEntity, "credit cap exceeded for the term")
	ErrInvalidTransition    = New("INVALID_TRANSITION", http.StatusConflict, "invalid enrollment phase transition")
	ErrAlreadyEnrolled      = New("ALREADY_ENROLLED", http.StatusConflict, "student already enrolled in subject for term")
	ErrLedgerInvariant      = New("LEDGER_INVARIANT_VIOLATION", http.StatusInternalServerError, "capacity ledger invariant violated")
	ErrTimeout              = New("REQUEST_TIMEOUT", http.StatusServiceUnavailable, "timed out waiting for a registration lock")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Code returns the code of err when it is (or wraps) an *Error, otherwise INTERNAL_ERROR.
func Code(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}
