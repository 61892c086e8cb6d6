// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/resumeflow/pkg/errors"
)

// Metrics holds the instruments shared by the engine, the task server and
// the tool client. A nil *Metrics is valid and records nothing.
type Metrics struct {
	errorCounter     metric.Int64Counter
	stageRuns        metric.Int64Counter
	stageFailures    metric.Int64Counter
	stageDuration    metric.Float64Histogram
	pipelineDuration metric.Float64Histogram
	pipelineScore    metric.Float64Histogram
	taskTransitions  metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolHandshakes   metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("resumeflow")
	m := &Metrics{}
	var err error

	if m.errorCounter, err = meter.Int64Counter("resumeflow.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.stageRuns, err = meter.Int64Counter("resumeflow.stage.runs",
		metric.WithDescription("Stage executions by stage and status")); err != nil {
		return nil, err
	}
	if m.stageFailures, err = meter.Int64Counter("resumeflow.stage.failures",
		metric.WithDescription("Stages that reported failure")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram("resumeflow.stage.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.pipelineDuration, err = meter.Float64Histogram("resumeflow.pipeline.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.pipelineScore, err = meter.Float64Histogram("resumeflow.pipeline.score",
		metric.WithDescription("Summary scores produced by a run (ats, quality)")); err != nil {
		return nil, err
	}
	if m.taskTransitions, err = meter.Int64Counter("resumeflow.task.transitions",
		metric.WithDescription("Task state transitions by target status")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("resumeflow.tool.calls",
		metric.WithDescription("Tool protocol operations by endpoint and outcome")); err != nil {
		return nil, err
	}
	if m.toolHandshakes, err = meter.Int64Counter("resumeflow.tool.handshakes",
		metric.WithDescription("Tool protocol initialize handshakes")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordError counts err under its code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	te := errors.As(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(te.Code)),
		attribute.String("component", component),
	))
}

// RecordStage counts one stage execution.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStageName, stage),
		attribute.String(AttrStageStatus, status),
	)
	m.stageRuns.Add(ctx, 1, attrs)
	m.stageDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	if status != "ok" {
		m.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStageName, stage)))
	}
}

// RecordPipeline records the duration of a full run.
func (m *Metrics) RecordPipeline(ctx context.Context, skill string, elapsed time.Duration, failedStages int) {
	if m == nil {
		return
	}
	m.pipelineDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String(AttrSkillID, skill),
		attribute.Bool("degraded", failedStages > 0),
	))
}

// RecordScore records a named summary score.
func (m *Metrics) RecordScore(ctx context.Context, name string, value float64) {
	if m == nil {
		return
	}
	m.pipelineScore.Record(ctx, value, metric.WithAttributes(attribute.String("score", name)))
}

// RecordTransition counts a task moving to status.
func (m *Metrics) RecordTransition(ctx context.Context, skill, status string) {
	if m == nil {
		return
	}
	m.taskTransitions.Add(ctx, 1, metric.WithAttributes(TaskAttributes("", skill, status)...))
}

// RecordToolCall counts one tool-protocol operation.
func (m *Metrics) RecordToolCall(ctx context.Context, endpoint, operation string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolEndpoint, endpoint),
		attribute.String(AttrToolOperation, operation),
		attribute.Bool(AttrToolSuccess, success),
	))
}

// RecordHandshake counts one initialize handshake.
func (m *Metrics) RecordHandshake(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.toolHandshakes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolEndpoint, endpoint)))
}
