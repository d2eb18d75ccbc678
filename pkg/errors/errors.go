// Package errors provides coded errors for dfgflow.
// Every error carries a stable code for programmatic handling and a stack
// captured with cockroachdb/errors for debugging.
package errors

import (
	"fmt"
	"sort"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Code identifies an error class.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound      Code = "E101"
	CodeUnsupportedFormat Code = "E102"
	CodeInvalidFormat     Code = "E103"
	CodeMissingColumn     Code = "E104"
	CodeInvalidTimestamp  Code = "E105"
	CodeEncodingError     Code = "E106"
	CodeInvalidInput      Code = "E107"

	// Processing errors (2xx)
	CodeParseFailed Code = "E201"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"

	// Engine errors (5xx)
	CodeDuckDBInit  Code = "E501"
	CodeDuckDBQuery Code = "E502"

	// Cache errors (6xx)
	CodeCacheFailed Code = "E601"

	// Rendering errors (7xx)
	CodeRenderFailed Code = "E701"

	CodeUnknown Code = "E999"
)

// Error is the base error type for all dfgflow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}

	// stack holds the capture point; only used by FormatStack.
	stack error
}

// Error implements the error interface. Context keys are printed sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds a key/value pair to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// FormatStack returns the captured stack trace.
func (e *Error) FormatStack() string {
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

// New creates a new coded error.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		stack:   crdb.NewWithDepth(1, message),
	}
}

// Newf creates a new coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Code:    code,
		Message: msg,
		stack:   crdb.NewWithDepth(1, msg),
	}
}

// Wrap wraps an existing error. Wrapping nil returns nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
		stack:   crdb.WrapWithDepth(1, err, message),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Code:    code,
		Message: msg,
		Cause:   err,
		stack:   crdb.WrapWithDepth(1, err, msg),
	}
}

// --- Convenience constructors ---

// InvalidInput reports an event that cannot be sequenced or labelled.
func InvalidInput(reason string) *Error {
	return New(CodeInvalidInput, "invalid input").WithContext("reason", reason)
}

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *Error {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// InvalidTimestamp creates a timestamp parsing error.
func InvalidTimestamp(value string, row int) *Error {
	return New(CodeInvalidTimestamp, "failed to parse timestamp").
		WithContext("value", value).
		WithContext("row", row)
}

// ParseError creates a parsing error with location.
func ParseError(format string, row int, err error) *Error {
	return Wrap(err, CodeParseFailed, "parse error").
		WithContext("format", format).
		WithContext("row", row)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return crdb.Is(err, target)
}

// IsCode checks if an error has a specific code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !crdb.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code.
func GetCode(err error) Code {
	var e *Error
	if crdb.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsInvalidInput reports whether err is a core InvalidInput error.
func IsInvalidInput(err error) bool {
	return IsCode(err, CodeInvalidInput)
}

// IsRetryable returns true if the error is worth retrying.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeCacheFailed:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
