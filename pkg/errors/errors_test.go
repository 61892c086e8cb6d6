// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("broken pipe")
	te := New(CodeToolFailure, "call calculate_ats_score", cause)

	if te.Code != CodeToolFailure {
		t.Errorf("expected CodeToolFailure, got %v", te.Code)
	}
	if te.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(te, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
	if te.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		te       *Error
		expected string
	}{
		{
			name:     "with cause",
			te:       New(CodeTimeout, "fetch timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] fetch timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			te:       Newf(CodeNotFound, "task %s not found", "task-1"),
			expected: "[NOT_FOUND] task task-1 not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.te.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAs(t *testing.T) {
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	wrapped := fmt.Errorf("stage: %w", New(CodeSkillNotFound, "unknown skill", nil))
	if got := As(wrapped).Code; got != CodeSkillNotFound {
		t.Fatalf("expected SKILL_NOT_FOUND through wrap, got %v", got)
	}
	if got := As(errors.New("plain")).Code; got != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR for plain error, got %v", got)
	}
	if !HasCode(wrapped, CodeSkillNotFound) || HasCode(wrapped, CodeNotFound) {
		t.Fatalf("HasCode mismatch")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("expected CodeOf default to be internal")
	}
}

func TestMarshalJSON(t *testing.T) {
	te := New(CodeToolFailure, "tool failed", errors.New("network error")).
		WithContext("tool", "validate_markdown").
		WithRecoverable(true)

	data, err := json.Marshal(te)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if result["code"] != "TOOL_FAILURE" {
		t.Errorf("expected code 'TOOL_FAILURE', got %v", result["code"])
	}
	if result["error"] != "network error" {
		t.Errorf("expected cause text, got %v", result["error"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeNotFound, 404},
		{CodeUnauthorized, 401},
		{CodeForbidden, 403},
		{CodeInvalidInput, 400},
		{CodeSkillNotFound, 400},
		{CodeInvalidTransition, 400},
		{CodeTimeout, 408},
		{CodeRateLimit, 429},
		{CodeOrchestration, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "test", nil).StatusCode; got != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, got)
			}
		})
	}
}
