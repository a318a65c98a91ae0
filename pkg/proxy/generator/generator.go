// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package generator turns registry entries into callable proxy functions.
// A proxy validates its arguments against the tool's input schema, routes
// the call to the owning backend through the discovery service, and
// normalizes the result before returning it.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/schema"
	"github.com/ngardiner/toolgate/pkg/proxy/timeline"
	"github.com/ngardiner/toolgate/pkg/telemetry"
)

// ToolCaller routes a validated call to the backend that owns the tool.
// The discovery service implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, finalName string, args map[string]any) (map[string]any, error)
}

// Handler is the invocable body of a proxy function.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ProxyFunction is one generated callable. Name qualifies the final tool
// name with its owning server; the hosting server registers the function
// under the final name alone, which is already conflict-free.
type ProxyFunction struct {
	Name        string
	Description string
	Handler     Handler
	Metadata    ProxyFunctionMetadata
}

// ProxyFunctionMetadata describes how a proxy function maps onto its
// backend tool.
type ProxyFunctionMetadata struct {
	Tool         proxy.Tool
	ServerName   string
	OriginalName string
	ProxyName    string

	// ParameterMapping maps each declared parameter to its JSON Schema type.
	ParameterMapping map[string]string

	CreatedAt time.Time
}

// Generator builds proxy functions from the current registry snapshot.
type Generator struct {
	registry  *proxy.Registry
	discovery ToolCaller
	recorder  timeline.Recorder

	mu        sync.RWMutex
	functions map[string]*ProxyFunction
}

// New creates a generator. The recorder may be a NopRecorder when timeline
// logging is disabled.
func New(registry *proxy.Registry, disc ToolCaller, recorder timeline.Recorder) *Generator {
	if recorder == nil {
		recorder = timeline.NewNopRecorder()
	}
	return &Generator{
		registry:  registry,
		discovery: disc,
		recorder:  recorder,
		functions: make(map[string]*ProxyFunction),
	}
}

// GenerateProxyFunction builds the proxy function for one registry entry.
func (g *Generator) GenerateProxyFunction(entry proxy.RegistryEntry) *ProxyFunction {
	validator := schema.NewValidator(entry.FinalName, entry.Tool.InputSchema)
	finalName := entry.FinalName
	originalName := entry.Tool.OriginalName
	serverName := entry.ServerName
	recorder := g.recorder
	disc := g.discovery

	handler := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		validated, err := validator.Validate(args)
		if err != nil {
			telemetry.ValidationFailures.Inc()
			return nil, err
		}

		raw, err := disc.CallTool(ctx, finalName, validated)
		if err != nil {
			return nil, err
		}

		result, err := processResult(originalName, serverName, raw)
		if err != nil {
			telemetry.ProcessingFailures.Inc()
			return nil, err
		}

		if !timeline.IsTimelineTool(finalName) {
			recorder.LogToolExecution(finalName, validated, result)
		}
		return result, nil
	}

	return &ProxyFunction{
		Name:        fmt.Sprintf("%s.%s", serverName, finalName),
		Description: entry.Tool.Description,
		Handler:     handler,
		Metadata: ProxyFunctionMetadata{
			Tool:             entry.Tool,
			ServerName:       serverName,
			OriginalName:     originalName,
			ProxyName:        finalName,
			ParameterMapping: parameterMapping(entry.Tool.InputSchema),
			CreatedAt:        time.Now(),
		},
	}
}

// GenerateAllProxyFunctions rebuilds the full function map from the current
// registry snapshot, keyed by final tool name.
func (g *Generator) GenerateAllProxyFunctions() map[string]*ProxyFunction {
	entries := g.registry.List()
	functions := make(map[string]*ProxyFunction, len(entries))
	for _, entry := range entries {
		functions[entry.FinalName] = g.GenerateProxyFunction(entry)
	}

	g.mu.Lock()
	g.functions = functions
	g.mu.Unlock()

	logger.Debugw("proxy functions regenerated", "count", len(functions))
	return functions
}

// FunctionMetadata returns the metadata for the named proxy function, by
// final tool name.
func (g *Generator) FunctionMetadata(finalName string) (ProxyFunctionMetadata, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn, ok := g.functions[finalName]
	if !ok {
		return ProxyFunctionMetadata{}, false
	}
	return fn.Metadata, true
}

// Count returns the number of functions from the last generation pass.
func (g *Generator) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.functions)
}

// processResult enforces the result contract: a well-formed backend result
// carries a success boolean. Metadata is attached without clobbering
// anything the backend put there first.
func processResult(originalName, serverName string, raw map[string]any) (map[string]any, error) {
	if _, ok := raw["success"].(bool); !ok {
		return nil, &proxy.ProcessingError{
			Tool:   originalName,
			Server: serverName,
			Reason: "result carries no success flag",
		}
	}

	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}

	metadata := map[string]any{}
	if existing, ok := raw["metadata"].(map[string]any); ok {
		for k, v := range existing {
			metadata[k] = v
		}
	}
	setIfAbsent(metadata, "tool_name", originalName)
	setIfAbsent(metadata, "server_name", serverName)
	setIfAbsent(metadata, "processed_at", time.Now().UTC().Format(time.RFC3339))
	setIfAbsent(metadata, "proxy_version", proxy.Version)
	out["metadata"] = metadata

	return out, nil
}

func setIfAbsent(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// parameterMapping extracts {parameter → JSON Schema type} from an input
// schema, for introspection.
func parameterMapping(inputSchema map[string]any) map[string]string {
	props, ok := inputSchema["properties"].(map[string]any)
	if !ok {
		return map[string]string{}
	}
	mapping := make(map[string]string, len(props))
	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := prop["type"].(string); ok {
			mapping[name] = t
		} else {
			mapping[name] = "any"
		}
	}
	return mapping
}
