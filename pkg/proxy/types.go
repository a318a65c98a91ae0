// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package proxy contains the shared domain types used across the toolgate
// subpackages: tools discovered from backend MCP servers, the conflict-free
// tool registry, and the error taxonomy surfaced to embedders.
package proxy

import (
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Default protocol metadata substituted when a server omits fields from its
// initialize response.
const (
	DefaultServerName      = "unknown"
	DefaultServerVersion   = "unknown"
	DefaultProtocolVersion = "2025-03-26"
)

// Tool is a named, schema-described callable exposed by a backend MCP server,
// tagged with the server it was discovered from.
type Tool struct {
	// Name is the tool's display name: the backend name, possibly with the
	// server's configured tool prefix applied. It may still conflict with
	// tools from other servers; the registry resolves conflicts.
	Name string

	// OriginalName is the name the backend knows the tool by. Dispatch always
	// uses this name, whatever renaming happened on the way in.
	OriginalName string

	// Description describes what the tool does.
	Description string

	// InputSchema is the JSON Schema object describing the tool parameters.
	InputSchema map[string]any

	// ServerName identifies the server that provides this tool.
	ServerName string
}

// NewTool constructs a Tool from a server's raw tools/list entry. It rejects
// empty names and descriptions, requires an object input schema, and compiles
// the schema to catch malformed schema documents at discovery time rather
// than at call time.
func NewTool(name, description string, inputSchema map[string]any, serverName string) (Tool, error) {
	if name == "" {
		return Tool{}, fmt.Errorf("%w: tool name is required", ErrInvalidTool)
	}
	if description == "" {
		return Tool{}, fmt.Errorf("%w: tool %q has no description", ErrInvalidTool, name)
	}
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object"}
	}
	if t, _ := inputSchema["type"].(string); t != "object" {
		return Tool{}, fmt.Errorf("%w: tool %q input schema must be an object schema", ErrInvalidTool, name)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputSchema)); err != nil {
		return Tool{}, fmt.Errorf("%w: tool %q has a malformed input schema: %v", ErrInvalidTool, name, err)
	}

	return Tool{
		Name:         name,
		OriginalName: name,
		Description:  description,
		InputSchema:  inputSchema,
		ServerName:   serverName,
	}, nil
}

// ServerInfo carries the identity a backend reported during the initialize
// handshake. Missing fields are substituted with defaults.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	Capabilities    map[string]any
}

// NewServerInfo fills in defaults for any field the server omitted.
func NewServerInfo(name, version, protocolVersion string, capabilities map[string]any) ServerInfo {
	if name == "" {
		name = DefaultServerName
	}
	if version == "" {
		version = DefaultServerVersion
	}
	if protocolVersion == "" {
		protocolVersion = DefaultProtocolVersion
	}
	if capabilities == nil {
		capabilities = map[string]any{}
	}
	return ServerInfo{
		Name:            name,
		Version:         version,
		ProtocolVersion: protocolVersion,
		Capabilities:    capabilities,
	}
}

// RegistryEntry is one tool in the aggregated catalog. FinalName may differ
// from Tool.Name when conflict resolution renamed the tool.
type RegistryEntry struct {
	FinalName  string
	Tool       Tool
	ServerName string
}

// ConflictResolutionServerPrefix names the only conflict resolution strategy
// the registry applies: the second registrant is renamed to
// "{server}_{tool}".
const ConflictResolutionServerPrefix = "server_prefix"

// ToolConflict records one name collision between servers. Conflicts are
// retained for observability rather than discarded.
type ToolConflict struct {
	ToolName   string
	Servers    []string
	Resolution string
}

// DiscoveryResult is the outcome of one discovery attempt against one server.
type DiscoveryResult struct {
	ServerName      string
	Success         bool
	ToolsDiscovered int
	ErrorMessage    string
	Elapsed         time.Duration
	ServerInfo      *ServerInfo
}

// ServerHealth is the cached outcome of the most recent liveness probe
// against a server.
type ServerHealth struct {
	ServerName string
	Healthy    bool
	CheckedAt  time.Time
	Error      string
}
