// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/client"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
	"github.com/ngardiner/toolgate/pkg/proxy/transport"
)

// fakeBackend answers initialize and tools/list with a fixed catalog, and
// echoes tools/call arguments back as a structured result.
type fakeBackend struct {
	tools    []map[string]any
	messages chan *jsonrpc.Message
}

func newFakeBackend(toolNames ...string) *fakeBackend {
	tools := make([]map[string]any, 0, len(toolNames))
	for _, name := range toolNames {
		tools = append(tools, map[string]any{
			"name":        name,
			"description": "does " + name,
			"inputSchema": map[string]any{"type": "object"},
		})
	}
	return &fakeBackend{tools: tools, messages: make(chan *jsonrpc.Message, 16)}
}

func (f *fakeBackend) Connect(_ context.Context) error { return nil }

func (f *fakeBackend) Send(_ context.Context, msg *jsonrpc.Message) error {
	if msg.IsNotification() {
		return nil
	}
	var result any
	switch msg.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2025-03-26",
			"serverInfo":      map[string]any{"name": "fake", "version": "1.0"},
		}
	case "tools/list":
		result = map[string]any{"tools": f.tools}
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return err
		}
		result = map[string]any{
			"structuredContent": map[string]any{"success": true, "tool": p.Name, "args": p.Arguments},
		}
	default:
		return errors.New("unexpected method " + msg.Method)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	f.messages <- &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: raw}
	return nil
}

func (f *fakeBackend) Messages() <-chan *jsonrpc.Message { return f.messages }
func (f *fakeBackend) Ping(_ context.Context) error      { return nil }
func (f *fakeBackend) Close() error                      { return nil }

func testGlobal() config.GlobalSettings {
	g := config.GlobalSettings{}
	cfg := &config.Config{Global: g}
	cfg.ApplyDefaults()
	return cfg.Global
}

func connectedClient(t *testing.T, name string, backend *fakeBackend, settings config.ServerSettings) *client.Client {
	t.Helper()
	if settings.Timeout == 0 {
		settings.Timeout = 5
	}
	c := client.New(name, func() (transport.Transport, error) { return backend, nil }, settings, testGlobal())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)
	return c
}

func TestDiscoverServerTools(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "s1", newFakeBackend("read_file", "write_file"), config.ServerSettings{}))

	result := svc.DiscoverServerTools(context.Background(), "s1", true)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, 2, result.ToolsDiscovered)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "fake", result.ServerInfo.Name)
	assert.Equal(t, 2, registry.Len())
}

func TestRemoveClient(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "s1", newFakeBackend("read_file"), config.ServerSettings{}))

	result := svc.DiscoverServerTools(context.Background(), "s1", true)
	require.True(t, result.Success, result.ErrorMessage)
	require.Equal(t, 1, registry.Len())

	svc.RemoveClient("s1")
	assert.Equal(t, 0, registry.Len())
	_, err := svc.Client("s1")
	assert.ErrorIs(t, err, proxy.ErrServerNotFound)

	// Removing an unknown server is a no-op.
	svc.RemoveClient("ghost")
}

func TestDiscoverServerToolsNotConnected(t *testing.T) {
	t.Parallel()

	svc := NewService(proxy.NewRegistry(), testGlobal())
	c := client.New("down", func() (transport.Transport, error) { return nil, errors.New("no dial") }, config.ServerSettings{Timeout: 1}, testGlobal())
	svc.AddClient(c)

	result := svc.DiscoverServerTools(context.Background(), "down", true)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not connected")
}

func TestDiscoverServerToolsConnectsWhenDown(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())

	backend := newFakeBackend("echo")
	var dials int
	c := client.New("flaky", func() (transport.Transport, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return backend, nil
	}, config.ServerSettings{Timeout: 5}, testGlobal())
	svc.AddClient(c)
	t.Cleanup(c.Disconnect)

	// The backend is unreachable on the first cycle.
	result := svc.DiscoverServerTools(context.Background(), "flaky", true)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not connected")
	assert.Equal(t, 0, registry.Len())

	// The next cycle reconnects on its own, without the health loop.
	result = svc.DiscoverServerTools(context.Background(), "flaky", true)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, client.StateConnected, c.State())
	assert.Equal(t, 1, registry.Len())
}

func TestDiscoverServerToolsUnknownServer(t *testing.T) {
	t.Parallel()

	svc := NewService(proxy.NewRegistry(), testGlobal())
	result := svc.DiscoverServerTools(context.Background(), "ghost", true)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "ghost")
}

func TestDiscoverAllToolsIsolation(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "healthy", newFakeBackend("echo"), config.ServerSettings{}))

	down := client.New("down", func() (transport.Transport, error) { return nil, errors.New("no dial") }, config.ServerSettings{Timeout: 1}, testGlobal())
	svc.AddClient(down)

	results := svc.DiscoverAllTools(context.Background(), true)
	require.Len(t, results, 2)

	byServer := map[string]proxy.DiscoveryResult{}
	for _, r := range results {
		byServer[r.ServerName] = r
	}
	assert.True(t, byServer["healthy"].Success)
	assert.False(t, byServer["down"].Success)
	assert.Equal(t, 1, registry.Len())
	assert.False(t, svc.LastDiscovery().IsZero())
}

func TestDiscoveryConflictResolution(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "s1", newFakeBackend("common"), config.ServerSettings{}))

	require.True(t, svc.DiscoverServerTools(context.Background(), "s1", true).Success)

	svc.AddClient(connectedClient(t, "s2", newFakeBackend("common"), config.ServerSettings{}))
	require.True(t, svc.DiscoverServerTools(context.Background(), "s2", true).Success)

	_, ok := registry.Get("common")
	assert.True(t, ok)
	_, ok = registry.Get("s2_common")
	assert.True(t, ok)
	require.Len(t, registry.Conflicts(), 1)
}

func TestDiscoveryAppliesToolPrefix(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "s1", newFakeBackend("search"), config.ServerSettings{ToolPrefix: "web_"}))

	require.True(t, svc.DiscoverServerTools(context.Background(), "s1", true).Success)

	entry, ok := registry.Get("web_search")
	require.True(t, ok)
	assert.Equal(t, "web_search", entry.Tool.Name)
}

func TestCallToolRouting(t *testing.T) {
	t.Parallel()

	registry := proxy.NewRegistry()
	svc := NewService(registry, testGlobal())
	svc.AddClient(connectedClient(t, "s1", newFakeBackend("echo"), config.ServerSettings{}))
	require.True(t, svc.DiscoverServerTools(context.Background(), "s1", true).Success)

	got, err := svc.CallTool(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo", got["tool"])

	_, err = svc.CallTool(context.Background(), "missing", nil)
	require.ErrorIs(t, err, proxy.ErrToolNotFound)
}

func TestHealthSnapshot(t *testing.T) {
	t.Parallel()

	svc := NewService(proxy.NewRegistry(), testGlobal())
	c := connectedClient(t, "s1", newFakeBackend("echo"), config.ServerSettings{})
	svc.AddClient(c)

	assert.True(t, c.IsHealthy(context.Background()))

	snapshot := svc.HealthSnapshot()
	require.Contains(t, snapshot, "s1")
	assert.True(t, snapshot["s1"].Healthy)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	svc := NewService(proxy.NewRegistry(), testGlobal())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	// Second Start is a warning, not a second pair of loops.
	svc.Start(ctx)

	svc.Stop()
	svc.Stop()
}
