// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the task lifecycle behind the JSON-RPC and REST
// bindings: task records, the asynchronous executor loop, cancellation and
// the auth and rate-limit hooks.
package server

import (
	"github.com/jllopis/resumeflow/pkg/errors"
)

// WrapTaskError wraps an error that occurred during task execution.
func WrapTaskError(err error, taskID string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeInternal, "task execution failed", err).
		WithContext("task_id", taskID).
		WithRecoverable(false)
}

// WrapStoreError wraps an error that occurred during store operations.
func WrapStoreError(err error, operation, taskID string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeInternal, "store operation failed", err).
		WithContext("operation", operation).
		WithContext("task_id", taskID).
		WithRecoverable(true)
}

// NewTaskNotFoundError creates a task not found error.
func NewTaskNotFoundError(taskID string) *errors.Error {
	return errors.New(errors.CodeNotFound, "task not found", nil).
		WithContext("task_id", taskID).
		WithRecoverable(false)
}

// NewInvalidParamsError creates an invalid request error.
func NewInvalidParamsError(msg string) *errors.Error {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

// NewMissingFieldsError reports required params that were not supplied.
func NewMissingFieldsError(names ...string) *errors.Error {
	return errors.Newf(errors.CodeInvalidInput, "missing required fields: %v", names).
		WithContext("missing", names)
}

// NewUnknownSkillError reports a skill id that is not advertised.
func NewUnknownSkillError(skillID string, valid []string) *errors.Error {
	return errors.Newf(errors.CodeSkillNotFound, "unknown skill %q", skillID).
		WithContext("skill_id", skillID).
		WithContext("valid_skills", valid)
}

// NewInvalidTransitionError reports an illegal lifecycle edge. The context
// carries the task's current status.
func NewInvalidTransitionError(taskID string, from, to TaskStatus) *errors.Error {
	return errors.Newf(errors.CodeInvalidTransition, "task %s cannot move from %s to %s", taskID, from, to).
		WithContext("task_id", taskID).
		WithContext("status", string(from))
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(component string) *errors.Error {
	return errors.New(errors.CodeInternal, component+" not configured", nil).
		WithContext("component", component).
		WithRecoverable(false)
}

// NewUnauthorizedError creates an authentication failure.
func NewUnauthorizedError(reason string) *errors.Error {
	return errors.New(errors.CodeUnauthorized, "authentication failed", nil).
		WithContext("reason", reason).
		WithRecoverable(false)
}

// NewRateLimitedError reports a request rejected by the rate limiter.
func NewRateLimitedError(key string) *errors.Error {
	return errors.New(errors.CodeRateLimit, "rate limit exceeded", nil).
		WithContext("key", key).
		WithRecoverable(true)
}
