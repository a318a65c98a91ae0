// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package timeline records proxied tool executions for audit purposes. It
// is optional and gated by the enable_timeline_logging setting.
package timeline

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ngardiner/toolgate/pkg/logger"
)

// Recorder consumes one record per proxied tool execution.
type Recorder interface {
	LogToolExecution(toolName string, params map[string]any, result map[string]any)
}

// IsTimelineTool reports whether a tool belongs to the timeline module
// itself. Executions of such tools are never recorded, otherwise logging a
// call would trigger another loggable call.
func IsTimelineTool(toolName string) bool {
	return strings.HasPrefix(strings.ToLower(toolName), "timeline")
}

// LogRecorder writes execution records to the structured log.
type LogRecorder struct{}

// NewLogRecorder creates a log-backed recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

// LogToolExecution records one execution, unless the tool is part of the
// timeline module itself.
func (*LogRecorder) LogToolExecution(toolName string, params map[string]any, result map[string]any) {
	if IsTimelineTool(toolName) {
		return
	}
	success, _ := result["success"].(bool)
	logger.Infow("tool executed",
		"execution_id", uuid.NewString(),
		"tool", toolName,
		"params", params,
		"success", success,
	)
}

// NopRecorder discards every record. Used when timeline logging is
// disabled.
type NopRecorder struct{}

// NewNopRecorder creates a recorder that records nothing.
func NewNopRecorder() *NopRecorder {
	return &NopRecorder{}
}

// LogToolExecution discards the record.
func (*NopRecorder) LogToolExecution(string, map[string]any, map[string]any) {}
