// Package apperr defines the error taxonomy used across the render pipeline.
// Each error carries a Code so callers can decide whether a failure is fatal
// to a job, absorbed at its origin, or surfaced to an HTTP client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code categorizes an error.
type Code string

// Error codes.
const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeSynthesis  Code = "SYNTHESIS_ERROR"
	CodeRender     Code = "RENDER_ERROR"
	CodePublish    Code = "PUBLISH_ERROR"
	CodeCleanup    Code = "CLEANUP_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching by code.
var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrSynthesis  = &Error{Code: CodeSynthesis}
	ErrRender     = &Error{Code: CodeRender}
	ErrPublish    = &Error{Code: CodePublish}
	ErrCleanup    = &Error{Code: CodeCleanup}
	ErrNotFound   = &Error{Code: CodeNotFound}
)

// Error is a coded error with the operation that produced it.
type Error struct {
	// Code is the error category.
	Code Code
	// Op is the operation that failed (e.g. "render.select").
	Op string
	// Message is the human-readable description.
	Message string
	// Err is the underlying cause.
	Err error
	// Fields holds extra context for logging.
	Fields map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithField attaches a context field and returns the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRender, CodeSynthesis, CodePublish:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error with the given code.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return New(code, op, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and operation. It returns nil when err is nil.
func Wrap(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
