// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/timeline"
)

// fakeCaller counts dispatches and returns a canned result per tool name.
type fakeCaller struct {
	mu      sync.Mutex
	calls   int
	lastArg map[string]any
	results map[string]map[string]any
}

func (f *fakeCaller) CallTool(_ context.Context, finalName string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastArg = args
	if result, ok := f.results[finalName]; ok {
		return result, nil
	}
	return map[string]any{"success": true}, nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func echoTool(t *testing.T) proxy.Tool {
	t.Helper()
	tool, err := proxy.NewTool("echo_tool", "echoes a message", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	}, "A")
	require.NoError(t, err)
	return tool
}

func setup(t *testing.T, caller *fakeCaller) (*Generator, *proxy.Registry) {
	t.Helper()
	registry := proxy.NewRegistry()
	return New(registry, caller, timeline.NewNopRecorder()), registry
}

func TestProxyFunctionInvocation(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{results: map[string]map[string]any{
		"echo_tool": {"success": true, "result": map[string]any{"message": "Hello"}},
	}}
	gen, registry := setup(t, caller)
	registry.Add(echoTool(t))

	functions := gen.GenerateAllProxyFunctions()
	require.Len(t, functions, 1)

	fn := functions["echo_tool"]
	require.NotNil(t, fn)
	assert.Equal(t, "A.echo_tool", fn.Name)
	assert.Equal(t, "echoes a message", fn.Description)

	got, err := fn.Handler(context.Background(), map[string]any{"message": "Hello"})
	require.NoError(t, err)

	assert.Equal(t, true, got["success"])
	metadata, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "echo_tool", metadata["tool_name"])
	assert.Equal(t, "A", metadata["server_name"])
	assert.Equal(t, proxy.Version, metadata["proxy_version"])
	assert.NotEmpty(t, metadata["processed_at"])
}

func TestProxyFunctionValidatesBeforeDispatch(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{}
	gen, registry := setup(t, caller)
	registry.Add(echoTool(t))

	fn := gen.GenerateAllProxyFunctions()["echo_tool"]
	require.NotNil(t, fn)

	_, err := fn.Handler(context.Background(), map[string]any{})
	var verr *proxy.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "message", verr.Param)

	// The backend was never reached.
	assert.Equal(t, 0, caller.callCount())
}

func TestProxyFunctionMalformedResult(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{results: map[string]map[string]any{
		"echo_tool": {"result": "no success flag here"},
	}}
	gen, registry := setup(t, caller)
	registry.Add(echoTool(t))

	fn := gen.GenerateAllProxyFunctions()["echo_tool"]
	_, err := fn.Handler(context.Background(), map[string]any{"message": "x"})

	var perr *proxy.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "echo_tool", perr.Tool)
	assert.Equal(t, "A", perr.Server)
}

func TestProxyFunctionPreservesCallerMetadata(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{results: map[string]map[string]any{
		"echo_tool": {
			"success":  true,
			"metadata": map[string]any{"tool_name": "backend-says-so", "trace_id": "abc"},
		},
	}}
	gen, registry := setup(t, caller)
	registry.Add(echoTool(t))

	fn := gen.GenerateAllProxyFunctions()["echo_tool"]
	got, err := fn.Handler(context.Background(), map[string]any{"message": "x"})
	require.NoError(t, err)

	metadata := got["metadata"].(map[string]any)
	// Backend-supplied fields win; the processor only fills gaps.
	assert.Equal(t, "backend-says-so", metadata["tool_name"])
	assert.Equal(t, "abc", metadata["trace_id"])
	assert.Equal(t, "A", metadata["server_name"])
}

func TestMetadataForPrefixedConflictName(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{}
	gen, registry := setup(t, caller)

	toolA, err := proxy.NewTool("common", "from A", map[string]any{"type": "object"}, "A")
	require.NoError(t, err)
	toolB, err := proxy.NewTool("common", "from B", map[string]any{"type": "object"}, "B")
	require.NoError(t, err)
	registry.Add(toolA)
	registry.Add(toolB)

	functions := gen.GenerateAllProxyFunctions()
	require.Len(t, functions, 2)

	meta, ok := gen.FunctionMetadata("B_common")
	require.True(t, ok)
	// Metadata names the backend's own tool, not the prefixed catalog name.
	assert.Equal(t, "common", meta.OriginalName)
	assert.Equal(t, "B", meta.ServerName)
	assert.Equal(t, "B_common", meta.ProxyName)

	_, ok = gen.FunctionMetadata("ghost")
	assert.False(t, ok)
}

func TestParameterMapping(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{}
	gen, registry := setup(t, caller)

	tool, err := proxy.NewTool("multi", "many params", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"s":   map[string]any{"type": "string"},
			"n":   map[string]any{"type": "integer"},
			"any": map[string]any{"description": "untyped"},
		},
	}, "A")
	require.NoError(t, err)
	registry.Add(tool)

	gen.GenerateAllProxyFunctions()
	meta, ok := gen.FunctionMetadata("multi")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"s": "string", "n": "integer", "any": "any"}, meta.ParameterMapping)
}

func TestRegenerationDropsStaleFunctions(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{}
	gen, registry := setup(t, caller)
	registry.Add(echoTool(t))

	require.Len(t, gen.GenerateAllProxyFunctions(), 1)
	assert.Equal(t, 1, gen.Count())

	registry.RemoveServerTools("A")
	require.Len(t, gen.GenerateAllProxyFunctions(), 0)
	assert.Equal(t, 0, gen.Count())

	_, ok := gen.FunctionMetadata("echo_tool")
	assert.False(t, ok)
}
