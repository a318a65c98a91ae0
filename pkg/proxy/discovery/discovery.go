// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package discovery keeps the aggregated tool catalog in sync with the
// backend servers. It fans discovery out across clients, folds the results
// into the registry, routes tool calls to the owning server, and runs the
// periodic rediscovery and health loops.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/client"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/telemetry"
)

// Service owns the discovery lifecycle over a fixed set of clients.
type Service struct {
	registry *proxy.Registry
	global   config.GlobalSettings

	mu      sync.RWMutex
	clients map[string]*client.Client
	lastRun time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup
}

// NewService creates a discovery service folding results into the given
// registry.
func NewService(registry *proxy.Registry, global config.GlobalSettings) *Service {
	return &Service{
		registry: registry,
		global:   global,
		clients:  make(map[string]*client.Client),
		stopCh:   make(chan struct{}),
	}
}

// AddClient registers a client with the service. Clients are added during
// engine startup, before the loops run.
func (s *Service) AddClient(c *client.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ServerName()] = c
}

// RemoveClient detaches a server from the service and drops its tools from
// the registry. The client itself is not disconnected; that remains the
// owner's responsibility.
func (s *Service) RemoveClient(name string) {
	s.mu.Lock()
	_, known := s.clients[name]
	delete(s.clients, name)
	s.mu.Unlock()
	if !known {
		return
	}
	removed := s.registry.RemoveServerTools(name)
	telemetry.RegisteredTools.Set(float64(s.registry.Len()))
	logger.Infow("removed server from discovery", "server", name, "tools_removed", removed)
}

// Client returns the client for the named server.
func (s *Service) Client(name string) (*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", proxy.ErrServerNotFound, name)
	}
	return c, nil
}

// Names returns the registered server names, sorted.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LastDiscovery returns when the last full discovery pass completed.
func (s *Service) LastDiscovery() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// DiscoverServerTools refreshes one server's slice of the catalog. A server
// that is not connected gets one connection attempt first. A failure leaves
// the server's previously registered tools in place.
func (s *Service) DiscoverServerTools(ctx context.Context, serverName string, force bool) proxy.DiscoveryResult {
	start := time.Now()
	result := proxy.DiscoveryResult{ServerName: serverName}

	c, err := s.Client(serverName)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.Elapsed = time.Since(start)
		return result
	}

	if c.State() != client.StateConnected {
		if err := c.Connect(ctx); err != nil {
			result.ErrorMessage = fmt.Sprintf("server %q is not connected: %v", serverName, err)
			result.Elapsed = time.Since(start)
			telemetry.DiscoveryRuns.WithLabelValues(serverName, telemetry.OutcomeFailure).Inc()
			return result
		}
		logger.Infow("reconnected during discovery", "server", serverName)
	}

	tools, err := c.DiscoverTools(ctx, force)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.Elapsed = time.Since(start)
		telemetry.DiscoveryRuns.WithLabelValues(serverName, telemetry.OutcomeFailure).Inc()
		logger.Warnw("discovery failed", "server", serverName, "err", err)
		return result
	}

	if prefix := c.Settings().ToolPrefix; prefix != "" {
		prefixed := make([]proxy.Tool, len(tools))
		for i, tool := range tools {
			tool.Name = prefix + tool.Name
			prefixed[i] = tool
		}
		tools = prefixed
	}

	s.registry.ReplaceServerTools(serverName, tools)
	telemetry.RegisteredTools.Set(float64(s.registry.Len()))
	telemetry.DiscoveryRuns.WithLabelValues(serverName, telemetry.OutcomeSuccess).Inc()

	result.Success = true
	result.ToolsDiscovered = len(tools)
	result.ServerInfo = c.ServerInfo()
	result.Elapsed = time.Since(start)
	return result
}

// DiscoverAllTools runs discovery against every server in parallel, bounded
// by the configured concurrency. One server's failure never affects the
// others.
func (s *Service) DiscoverAllTools(ctx context.Context, force bool) []proxy.DiscoveryResult {
	names := s.Names()
	results := make([]proxy.DiscoveryResult, len(names))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.global.MaxConcurrentCalls)
	for i, name := range names {
		group.Go(func() error {
			results[i] = s.DiscoverServerTools(ctx, name, force)
			return nil
		})
	}
	// Workers never return errors; failures live in the results.
	_ = group.Wait()

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	return results
}

// CallTool routes a tool call to the server that registered it, by the
// tool's final registered name.
func (s *Service) CallTool(ctx context.Context, finalName string, args map[string]any) (map[string]any, error) {
	entry, ok := s.registry.Get(finalName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", proxy.ErrToolNotFound, finalName)
	}
	c, err := s.Client(entry.ServerName)
	if err != nil {
		return nil, err
	}

	result, err := c.CallTool(ctx, entry.Tool.OriginalName, args)
	if err != nil {
		telemetry.ToolCalls.WithLabelValues(entry.ServerName, telemetry.OutcomeFailure).Inc()
		return nil, err
	}
	telemetry.ToolCalls.WithLabelValues(entry.ServerName, telemetry.OutcomeSuccess).Inc()
	return result, nil
}

// HealthSnapshot returns the most recent health verdict per server.
func (s *Service) HealthSnapshot() map[string]proxy.ServerHealth {
	s.mu.RLock()
	clients := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	snapshot := make(map[string]proxy.ServerHealth, len(clients))
	for _, c := range clients {
		snapshot[c.ServerName()] = c.Health()
	}
	return snapshot
}

// Start launches the periodic rediscovery and health loops. Calling Start
// twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		logger.Warn("discovery loops already running")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.discoveryLoop(ctx)
	go s.healthLoop(ctx)
}

// Stop halts the loops and waits for them to exit. Safe to call repeatedly.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.global.DiscoveryPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			results := s.DiscoverAllTools(ctx, true)
			for _, r := range results {
				if !r.Success {
					logger.Warnw("periodic discovery failed", "server", r.ServerName, "reason", r.ErrorMessage)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.global.HealthCheckPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// checkHealth probes every client and tries to resurrect dead connections.
// A successful reconnect is followed by a rediscovery of that server so its
// tools come back without waiting for the next discovery tick.
func (s *Service) checkHealth(ctx context.Context) {
	s.mu.RLock()
	clients := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if c.IsHealthy(ctx) {
			continue
		}
		name := c.ServerName()
		logger.Warnw("backend server unhealthy", "server", name)

		if c.Reconnect(ctx) {
			logger.Infow("backend server reconnected", "server", name)
			result := s.DiscoverServerTools(ctx, name, true)
			if !result.Success {
				logger.Warnw("rediscovery after reconnect failed", "server", name, "reason", result.ErrorMessage)
			}
		}
	}
}
