// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/errors"
)

// CLIError wraps a typed error with a hint for the operator.
type CLIError struct {
	Typed *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(te *errors.Error, hint string) *CLIError {
	return &CLIError{Typed: te, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Typed == nil {
		return "unknown error"
	}
	msg := e.Typed.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	if e.Typed == nil {
		return nil
	}
	return e.Typed
}

// Print writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) Print(w io.Writer, asJSON bool) {
	te := e.Typed
	if te == nil {
		te = errors.New(errors.CodeInternal, "unknown error", nil)
	}
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    te.Code,
			"message": te.Message,
			"context": te.Context,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", te.Code, te.Message)
	if te.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", te.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// WrapConnectionError wraps a connection error with CLI hints.
func WrapConnectionError(err error, addr string) *CLIError {
	te := errors.New(errors.CodeInternal, "connection failed", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(te, fmt.Sprintf("check if the server is running at %s", addr))
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	te := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(te, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	te := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg)
	return NewCLIError(te, "run 'resumeflow help' for usage information")
}

// FromRPCError converts a JSON-RPC error returned by a server.
func FromRPCError(e *jsonrpc.Error) *CLIError {
	code, hint := errors.CodeInternal, "this may be a transient error; try again later"
	switch e.Code {
	case jsonrpc.CodeTaskNotFound:
		code, hint = errors.CodeNotFound, "list tasks with 'resumeflow tasks list'"
	case jsonrpc.CodeSkillNotFound, jsonrpc.CodeInvalidParams:
		code, hint = errors.CodeInvalidInput, "list skills with 'resumeflow skills'"
	case jsonrpc.CodeAuthFailed:
		code, hint = errors.CodeUnauthorized, "pass a token with --token or RESUMEFLOW_TOKEN"
	case jsonrpc.CodeInsufficientPermissions:
		code, hint = errors.CodeForbidden, "the token is not allowed to call this method"
	case jsonrpc.CodeRateLimited:
		code, hint = errors.CodeRateLimit, "slow down and retry later"
	case jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidRequest, jsonrpc.CodeParseError:
		code, hint = errors.CodeProtocol, "client and server versions may differ"
	}
	te := errors.New(code, e.Message, nil).WithContext("rpc_code", e.Code)
	if data, ok := e.Data.(map[string]any); ok {
		for k, v := range data {
			te.WithContext(k, v)
		}
	}
	return NewCLIError(te, hint)
}

// describeError turns any error returned by a command into a CLIError.
func describeError(err error, server string) *CLIError {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		return cliErr
	}
	var rpcErr *jsonrpc.Error
	if stderrors.As(err, &rpcErr) {
		return FromRPCError(rpcErr)
	}
	var netErr net.Error
	var urlErr *url.Error
	if server != "" && (stderrors.As(err, &netErr) || stderrors.As(err, &urlErr)) {
		return WrapConnectionError(err, server)
	}
	return NewCLIError(errors.As(err), "")
}
