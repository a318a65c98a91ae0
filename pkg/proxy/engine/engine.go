// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates the whole proxy: it loads configuration,
// builds the discovery service and proxy generator, connects clients for
// every enabled server, runs the background loops, and registers generated
// proxies with a hosting MCP server.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/client"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/discovery"
	"github.com/ngardiner/toolgate/pkg/proxy/generator"
	"github.com/ngardiner/toolgate/pkg/proxy/timeline"
	"github.com/ngardiner/toolgate/pkg/proxy/transport"
)

// State is the engine lifecycle state.
type State string

// Lifecycle states. Transitions only move forward; a stopped engine is not
// restarted, a new one is built.
const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
)

// HostServer is the surface toolgate needs from the hosting MCP server: a
// way to register one tool with its schema and handler.
type HostServer interface {
	AddTool(name, description string, inputSchema map[string]any, handler generator.Handler)
}

// Stats is a point-in-time snapshot of engine health, recomputed on demand.
type Stats struct {
	State                   State     `json:"state"`
	ServersConfigured       int       `json:"servers_configured"`
	ServersConnected        int       `json:"servers_connected"`
	ToolsDiscovered         int       `json:"tools_discovered"`
	ProxyFunctionsGenerated int       `json:"proxy_functions_generated"`
	ToolsRegistered         int       `json:"tools_registered"`
	ConflictsDetected       int       `json:"conflicts_detected"`
	UptimeSeconds           float64   `json:"uptime_seconds"`
	LastDiscovery           time.Time `json:"last_discovery"`
}

// ToolInfo is the read-only registry view exposed for diagnostics.
type ToolInfo struct {
	FinalName    string            `json:"final_name"`
	OriginalName string            `json:"original_name"`
	ServerName   string            `json:"server_name"`
	Description  string            `json:"description"`
	Parameters   map[string]string `json:"parameters"`
}

// Engine is the top-level orchestrator.
type Engine struct {
	mu    sync.Mutex
	state State

	cfg       *config.Config
	registry  *proxy.Registry
	discovery *discovery.Service
	generator *generator.Generator
	factory   *transport.Factory

	clients    []*client.Client
	cancel     context.CancelFunc
	startedAt  time.Time
	registered int
}

// New creates an uninitialized engine.
func New() *Engine {
	return &Engine{
		state:   StateUninitialized,
		factory: transport.NewFactory(),
	}
}

// Initialize loads and validates the configuration and builds the service
// graph. Initializing twice is a no-op with a warning.
func (e *Engine) Initialize(configPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUninitialized {
		logger.Warnw("engine already initialized", "state", e.state)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.Global.LogLevel)

	e.cfg = cfg
	e.registry = proxy.NewRegistry()
	e.discovery = discovery.NewService(e.registry, cfg.Global)

	var recorder timeline.Recorder = timeline.NewNopRecorder()
	if cfg.Global.EnableTimelineLogging {
		recorder = timeline.NewLogRecorder()
	}
	e.generator = generator.New(e.registry, e.discovery, recorder)

	e.state = StateInitialized
	logger.Infow("engine initialized",
		"servers", len(cfg.MCPServers),
		"enabled", len(cfg.EnabledServers()),
	)
	return nil
}

// Start connects a client per enabled server, runs the initial discovery
// pass, and launches the background loops. Starting while already running
// is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.mu.Unlock()
		logger.Warn("engine already running")
		return nil
	case StateInitialized:
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: engine is %s", proxy.ErrNotInitialized, e.state)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, serverCfg := range e.cfg.EnabledServers() {
		c := e.newClient(serverCfg)
		e.clients = append(e.clients, c)
		e.discovery.AddClient(c)

		// A server that is down at startup degrades only itself; the health
		// loop keeps trying to bring it back.
		if err := c.Connect(ctx); err != nil {
			logger.Warnw("backend server unavailable at startup", "server", serverCfg.Name, "err", err)
		}
	}

	e.startedAt = time.Now()
	e.state = StateRunning
	e.mu.Unlock()

	results := e.discovery.DiscoverAllTools(ctx, true)
	for _, r := range results {
		if r.Success {
			logger.Infow("discovered tools", "server", r.ServerName, "count", r.ToolsDiscovered, "elapsed", r.Elapsed)
		} else {
			logger.Warnw("initial discovery failed", "server", r.ServerName, "reason", r.ErrorMessage)
		}
	}

	e.discovery.Start(loopCtx)
	logger.Infow("engine started", "tools", e.registry.Len())
	return nil
}

// Stop cancels the background loops and disconnects every client. Stopping
// an engine that is not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	cancel := e.cancel
	clients := e.clients
	disc := e.discovery
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	disc.Stop()
	for _, c := range clients {
		c.Disconnect()
	}
	logger.Info("engine stopped")
}

// RegisterProxyTools generates the current proxy functions and registers
// each with the hosting server, returning the count registered.
func (e *Engine) RegisterProxyTools(host HostServer) (int, error) {
	e.mu.Lock()
	if e.state == StateUninitialized {
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: initialize the engine before registering tools", proxy.ErrNotInitialized)
	}
	gen := e.generator
	e.mu.Unlock()

	functions := gen.GenerateAllProxyFunctions()
	count := 0
	for finalName, fn := range functions {
		host.AddTool(finalName, fn.Description, fn.Metadata.Tool.InputSchema, fn.Handler)
		count++
	}

	e.mu.Lock()
	e.registered = count
	e.mu.Unlock()

	logger.Infow("proxy tools registered", "count", count)
	return count, nil
}

// Stats recomputes the engine statistics snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{State: e.state}
	if e.cfg == nil {
		return stats
	}

	stats.ServersConfigured = len(e.cfg.MCPServers)
	for _, c := range e.clients {
		if c.State() == client.StateConnected {
			stats.ServersConnected++
		}
	}
	stats.ToolsDiscovered = e.registry.Len()
	stats.ProxyFunctionsGenerated = e.generator.Count()
	stats.ToolsRegistered = e.registered
	stats.ConflictsDetected = len(e.registry.Conflicts())
	if !e.startedAt.IsZero() && e.state == StateRunning {
		stats.UptimeSeconds = time.Since(e.startedAt).Seconds()
	}
	stats.LastDiscovery = e.discovery.LastDiscovery()
	return stats
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ToolInfo returns the diagnostic view of one registered tool.
func (e *Engine) ToolInfo(finalName string) (ToolInfo, bool) {
	e.mu.Lock()
	registry := e.registry
	e.mu.Unlock()
	if registry == nil {
		return ToolInfo{}, false
	}

	entry, ok := registry.Get(finalName)
	if !ok {
		return ToolInfo{}, false
	}
	return toolInfoFromEntry(entry), true
}

// AllToolInfo returns the diagnostic view of the whole catalog, sorted by
// final name.
func (e *Engine) AllToolInfo() []ToolInfo {
	e.mu.Lock()
	registry := e.registry
	e.mu.Unlock()
	if registry == nil {
		return nil
	}

	entries := registry.List()
	infos := make([]ToolInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, toolInfoFromEntry(entry))
	}
	return infos
}

// HealthSnapshot exposes the per-server health verdicts for diagnostics.
func (e *Engine) HealthSnapshot() map[string]proxy.ServerHealth {
	e.mu.Lock()
	disc := e.discovery
	e.mu.Unlock()
	if disc == nil {
		return nil
	}
	return disc.HealthSnapshot()
}

func (e *Engine) newClient(serverCfg *config.ServerConfig) *client.Client {
	dial := func() (transport.Transport, error) {
		return e.factory.Create(serverCfg)
	}
	return client.New(serverCfg.Name, dial, serverCfg.Settings, e.cfg.Global)
}

func toolInfoFromEntry(entry proxy.RegistryEntry) ToolInfo {
	params := map[string]string{}
	if props, ok := entry.Tool.InputSchema["properties"].(map[string]any); ok {
		for name, rawProp := range props {
			if prop, ok := rawProp.(map[string]any); ok {
				if t, ok := prop["type"].(string); ok {
					params[name] = t
					continue
				}
			}
			params[name] = "any"
		}
	}
	return ToolInfo{
		FinalName:    entry.FinalName,
		OriginalName: entry.Tool.OriginalName,
		ServerName:   entry.ServerName,
		Description:  entry.Tool.Description,
		Parameters:   params,
	}
}
