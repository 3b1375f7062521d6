// Package errors defines the error taxonomy of the enrichment engine.
//
// Failures fall into six kinds with different blast radii: configuration
// errors fail a run before dispatch, source-read and merge errors abort a
// running run, network errors are retried and then demoted to row-level
// failures, parse errors yield sentinel output values, and staging errors
// drop a single batch. Helpers classify an error by kind so callers never
// inspect codes by hand.
package errors

import (
	"errors"
	"fmt"
)

// Machine-readable error codes carried by Error.Code.
const (
	CodeConfiguration = "CONFIGURATION"
	CodeSourceRead    = "SOURCE_READ"
	CodeNetwork       = "NETWORK"
	CodeResponseParse = "RESPONSE_PARSE"
	CodeStaging       = "STAGING_IO"
	CodeMerge         = "MERGE"
)

var (
	// ErrConfiguration indicates missing or invalid settings; runs fail fast
	// before any chunk is dispatched.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSourceRead indicates the tabular source could not be read; fatal.
	ErrSourceRead = errors.New("source read failed")

	// ErrNetwork indicates a transient remote-call failure; retried, then
	// demoted to a row-level failure.
	ErrNetwork = errors.New("remote call failed")

	// ErrResponseParse indicates a reply could not be parsed; never fatal,
	// the row receives sentinel output values.
	ErrResponseParse = errors.New("response parse failed")

	// ErrStaging indicates a staging artifact could not be written or read;
	// the batch's rows are lost but the run continues.
	ErrStaging = errors.New("staging io failed")

	// ErrMerge indicates the consolidated output could not be written; fatal,
	// staging cleanup still runs.
	ErrMerge = errors.New("merge failed")
)

// kinds maps codes to their sentinel for errors.Is matching.
var kinds = map[string]error{
	CodeConfiguration: ErrConfiguration,
	CodeSourceRead:    ErrSourceRead,
	CodeNetwork:       ErrNetwork,
	CodeResponseParse: ErrResponseParse,
	CodeStaging:       ErrStaging,
	CodeMerge:         ErrMerge,
}

// Error is a structured engine error with a machine-readable code, a
// human-readable message, and an optional underlying cause.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code, so
// errors.Is(err, ErrNetwork) matches any NETWORK-coded Error.
func (e *Error) Is(target error) bool {
	sentinel, ok := kinds[e.Code]
	return ok && target == sentinel
}

// NewError creates a structured error with an arbitrary code.
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a CONFIGURATION error.
func NewConfigurationError(message string, err error) *Error {
	return NewError(CodeConfiguration, message, err)
}

// NewSourceReadError creates a SOURCE_READ error.
func NewSourceReadError(message string, err error) *Error {
	return NewError(CodeSourceRead, message, err)
}

// NewNetworkError creates a NETWORK error.
func NewNetworkError(message string, err error) *Error {
	return NewError(CodeNetwork, message, err)
}

// NewResponseParseError creates a RESPONSE_PARSE error.
func NewResponseParseError(message string, err error) *Error {
	return NewError(CodeResponseParse, message, err)
}

// NewStagingError creates a STAGING_IO error.
func NewStagingError(message string, err error) *Error {
	return NewError(CodeStaging, message, err)
}

// NewMergeError creates a MERGE error.
func NewMergeError(message string, err error) *Error {
	return NewError(CodeMerge, message, err)
}

// CodeOf returns the code of a structured error, or the empty string for
// nil and foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether an error aborts the whole run: configuration,
// source-read, and merge failures do; everything else stays local.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrSourceRead) ||
		errors.Is(err, ErrMerge)
}

// IsRowLevel reports whether an error affects a single row only.
func IsRowLevel(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrResponseParse)
}
