// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error used across resumeflow.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Code. The RPC layer maps codes to JSON-RPC error codes, the engine maps
// them to stage failure markers and telemetry records them as attributes.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeProtocol indicates a malformed envelope or undecodable request body.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeSkillNotFound indicates a skill id that is not in the manifest.
	CodeSkillNotFound ErrorCode = "SKILL_NOT_FOUND"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidTransition indicates an illegal task state change.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeAgentFailure indicates a single stage reported failure.
	CodeAgentFailure ErrorCode = "AGENT_FAILURE"

	// CodeOrchestration indicates an unexpected error escaped the composition engine.
	CodeOrchestration ErrorCode = "ORCHESTRATION_FAILURE"

	// CodeToolFailure indicates a tool connection or execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeContextLost indicates the request context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeUnauthorized indicates authentication failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the caller lacks permissions.
	CodeForbidden ErrorCode = "FORBIDDEN"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int // HTTP status for REST routes
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as *Error when one is found in the chain, or wraps it as
// CodeInternal otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "unexpected error", err)
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var te *Error
	return stderrors.As(err, &te) && te.Code == code
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeInvalidInput, CodeSkillNotFound, CodeInvalidTransition, CodeProtocol:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	default:
		return 500
	}
}
