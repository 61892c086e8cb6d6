package jsonrpc

import (
	"maps"

	"github.com/jllopis/resumeflow/pkg/errors"
)

// JSON-RPC 2.0 error codes. The -3200x range holds application codes.
const (
	CodeParseError              = -32700
	CodeInvalidRequest          = -32600
	CodeMethodNotFound          = -32601
	CodeInvalidParams           = -32602
	CodeInternalError           = -32603
	CodeTaskNotFound            = -32001
	CodeSkillNotFound           = -32002
	CodeAuthFailed              = -32003
	CodeInsufficientPermissions = -32004
	CodeRateLimited             = -32005
)

// Error is the error member of a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// FromError maps a typed error onto a JSON-RPC error. Validation failures,
// unknown skills and illegal task transitions all surface as InvalidParams
// with the error context as data.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	te := errors.As(err)
	switch te.Code {
	case errors.CodeInvalidInput, errors.CodeSkillNotFound, errors.CodeInvalidTransition:
		return &Error{Code: CodeInvalidParams, Message: te.Message, Data: contextData(te)}
	case errors.CodeNotFound:
		return &Error{Code: CodeTaskNotFound, Message: te.Message, Data: contextData(te)}
	case errors.CodeProtocol:
		return &Error{Code: CodeInvalidRequest, Message: te.Message}
	case errors.CodeUnauthorized:
		return &Error{Code: CodeAuthFailed, Message: te.Message, Data: contextData(te)}
	case errors.CodeForbidden:
		return &Error{Code: CodeInsufficientPermissions, Message: te.Message}
	case errors.CodeRateLimit:
		return &Error{Code: CodeRateLimited, Message: te.Message}
	}
	return internalError(te.Message, err)
}

func internalError(msg string, err error) *Error {
	data := map[string]any{"error": msg}
	if err != nil {
		data["detail"] = err.Error()
	}
	return &Error{Code: CodeInternalError, Message: "internal error", Data: data}
}

func contextData(te *errors.Error) map[string]any {
	if len(te.Context) == 0 {
		return nil
	}
	return maps.Clone(te.Context)
}
