// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry and slog integration for the
// pipeline, the task server and the tool client.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on spans and metrics.
const (
	// Run and stage attributes
	AttrRunID       = "resumeflow.run.id"
	AttrStageName   = "resumeflow.stage.name"
	AttrStageKind   = "resumeflow.stage.kind"
	AttrStageStatus = "resumeflow.stage.status"
	AttrStageWrites = "resumeflow.stage.writes"

	// Skill and task attributes
	AttrSkillID    = "resumeflow.skill.id"
	AttrTaskID     = "resumeflow.task.id"
	AttrTaskStatus = "resumeflow.task.status"
	AttrRPCMethod  = "rpc.method"

	// Tool attributes
	AttrToolEndpoint   = "resumeflow.tool.endpoint"
	AttrToolName       = "resumeflow.tool.name"
	AttrToolOperation  = "resumeflow.tool.operation"
	AttrToolSuccess    = "resumeflow.tool.success"
	AttrToolCached     = "resumeflow.tool.cached"
	AttrToolDecodeTier = "resumeflow.tool.decode_tier"
)

// StageAttributes returns attributes for a stage span.
func StageAttributes(runID, name, kind string, writes []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStageName, name),
		attribute.String(AttrStageKind, kind),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if len(writes) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrStageWrites, writes))
	}
	return attrs
}

// ToolAttributes returns attributes for a tool-protocol operation.
func ToolAttributes(endpoint, operation, name string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolEndpoint, endpoint),
		attribute.String(AttrToolOperation, operation),
	}
	if name != "" {
		attrs = append(attrs, attribute.String(AttrToolName, name))
	}
	return attrs
}

// TaskAttributes returns attributes for task tracking.
func TaskAttributes(taskID, skillID, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if skillID != "" {
		attrs = append(attrs, attribute.String(AttrSkillID, skillID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	return attrs
}
