// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/resumeflow/pkg/errors"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}

	ctx := context.Background()
	m.RecordError(ctx, errors.New(errors.CodeToolFailure, "tool failed", nil), "mcp")
	m.RecordError(ctx, stderrors.New("plain"), "rpc")
	m.RecordError(ctx, nil, "rpc")
	m.RecordStage(ctx, "skills_matcher", "ok", 12*time.Millisecond)
	m.RecordStage(ctx, "quality_validator", "failed", time.Millisecond)
	m.RecordPipeline(ctx, "optimize-resume", time.Second, 1)
	m.RecordScore(ctx, "ats", 72.5)
	m.RecordTransition(ctx, "optimize-resume", "completed")
	m.RecordToolCall(ctx, "resume-tools", "tools/call", true)
	m.RecordHandshake(ctx, "resume-tools")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordError(ctx, stderrors.New("x"), "rpc")
	m.RecordStage(ctx, "s", "ok", 0)
	m.RecordPipeline(ctx, "s", 0, 0)
	m.RecordScore(ctx, "ats", 1)
	m.RecordTransition(ctx, "s", "failed")
	m.RecordToolCall(ctx, "e", "tools/list", false)
	m.RecordHandshake(ctx, "e")
}

func TestStageAttributes(t *testing.T) {
	attrs := StageAttributes("run-1", "content_alignment", "stage", []string{"aligned_data"})
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
	if got := StageAttributes("", "x", "sequence", nil); len(got) != 2 {
		t.Fatalf("expected run id and writes to be omitted, got %d", len(got))
	}
	if got := ToolAttributes("resume-tools", "tools/call", ""); len(got) != 2 {
		t.Fatalf("expected tool name to be omitted, got %d", len(got))
	}
	if got := TaskAttributes("task-1", "", "pending"); len(got) != 2 {
		t.Fatalf("expected skill to be omitted, got %d", len(got))
	}
}
