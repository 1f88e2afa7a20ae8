package pipeline

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for abort and
// reporting behavior.
type ErrorClass string

const (
	// ErrorClassBuild indicates a static graph construction failure raised
	// before any data is loaded. Build errors always abort the entire run.
	ErrorClassBuild ErrorClass = "build"

	// ErrorClassRuntime indicates a data-loading failure during evaluation.
	// Runtime errors abort the run; no partial results are returned.
	ErrorClassRuntime ErrorClass = "runtime"
)

// PipelineError represents a classified error with term context.
// nolint:revive // PipelineError is intentionally named to distinguish from standard errors
type PipelineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Term names the offending term, if applicable.
	Term string `json:"term,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information, such as the
	// date range and asset set of a failed loader request.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Term != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (term=%s, operation=%s)%s",
			e.Class, e.Message, e.Term, e.Operation, e.unwrapSuffix())
	}
	if e.Term != "" {
		return fmt.Sprintf("[%s] %s (term=%s)%s", e.Class, e.Message, e.Term, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBuildError creates a new build-time (static) error.
func NewBuildError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassBuild,
		Message: message,
		Err:     err,
	}
}

// NewRuntimeError creates a new run-time (data) error.
func NewRuntimeError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassRuntime,
		Message: message,
		Err:     err,
	}
}

// WithTerm adds term context to an error.
func (e *PipelineError) WithTerm(term string) *PipelineError {
	e.Term = term
	return e
}

// WithOperation adds operation context to an error.
func (e *PipelineError) WithOperation(operation string) *PipelineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *PipelineError) WithCode(code string) *PipelineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsBuildError returns true if the error is a static graph construction
// failure.
func IsBuildError(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassBuild
	}
	return false
}

// IsRuntimeError returns true if the error is a data-loading failure.
func IsRuntimeError(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRuntime
	}
	return false
}

// HasCode returns true if err carries the given pipeline error code.
func HasCode(err error, code string) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes.
const (
	ErrCodeCyclicDependency   = "CYCLIC_DEPENDENCY"
	ErrCodeUnsupportedDType   = "UNSUPPORTED_DTYPE"
	ErrCodeDuplicateOutput    = "DUPLICATE_OUTPUT_NAME"
	ErrCodeInvalidWindow      = "INVALID_WINDOW_LENGTH"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeLoaderFailure      = "LOADER_FAILURE"
	ErrCodeWindowTooLong      = "WINDOW_TOO_LONG"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
