// Package apperr is the dialer's error taxonomy. Scheduler and sync runs fold
// these codes into summary counters; HTTP handlers map them to status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error class.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeProviderTransient   Code = "provider_transient"
	CodeProviderPermanent   Code = "provider_permanent"
	CodeConcurrencyConflict Code = "concurrency_conflict"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrValidation          = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrProviderTransient   = &Error{Code: CodeProviderTransient, Message: "provider transient failure"}
	ErrProviderPermanent   = &Error{Code: CodeProviderPermanent, Message: "provider permanent failure"}
	ErrConcurrencyConflict = &Error{Code: CodeConcurrencyConflict, Message: "concurrent update lost"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}
)

// Error is the coded domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(message string) *Error { return New(CodeValidation, message) }

func NotFound(message string) *Error { return New(CodeNotFound, message) }

func Conflict(message string) *Error { return New(CodeConcurrencyConflict, message) }

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
// Anything that is not a coded error (or implements Coder) is treated as internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

// Coder lets other packages' error types participate in CodeOf without
// depending on *Error directly.
type Coder interface {
	ErrorCode() Code
}

// IsCode reports whether err resolves to code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the status the API returns for it.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeProviderTransient, CodeProviderPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
