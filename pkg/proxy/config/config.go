// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model for toolgate: the set of
// backend MCP server definitions plus the global proxy settings. Configuration
// is loaded once at engine initialization and is immutable afterwards.
package config

import "time"

// TransportType names the connection kind used to reach a backend server.
type TransportType string

// Supported transport types.
const (
	TransportStdio          TransportType = "stdio"
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "streamable-http"
)

// Config is the root configuration document.
type Config struct {
	// Version is the config file format version.
	Version string `json:"version"`

	// MCPServers maps server name to its definition. The name is copied into
	// each ServerConfig during load.
	MCPServers map[string]*ServerConfig `json:"mcpServers"`

	// Global holds the proxy-wide settings.
	Global GlobalSettings `json:"global_settings"`
}

// ServerConfig defines one backend MCP server.
type ServerConfig struct {
	// Name is the server's key in the mcpServers map, filled during load.
	Name string `json:"-"`

	// Enabled controls whether the engine creates a client for this server.
	Enabled bool `json:"enabled"`

	// Description is free-form operator documentation.
	Description string `json:"description,omitempty"`

	// Type selects the transport: stdio, sse or streamable-http.
	Type TransportType `json:"type"`

	// Command, Args and Env configure the subprocess for stdio servers.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// URL and Headers configure the endpoint for sse and streamable-http
	// servers.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Settings holds the per-server tunables.
	Settings ServerSettings `json:"settings"`
}

// ServerSettings are the per-server tunables. All intervals are in seconds
// in the config file; use the accessor methods for durations.
type ServerSettings struct {
	// Timeout bounds each request/response exchange, in seconds.
	Timeout int `json:"timeout"`

	// RetryAttempts bounds reconnection attempts.
	RetryAttempts int `json:"retry_attempts"`

	// RetryDelay is the pause between reconnection attempts, in seconds.
	RetryDelay int `json:"retry_delay"`

	// ToolPrefix is prepended to every tool name discovered from this server
	// before registration.
	ToolPrefix string `json:"tool_prefix,omitempty"`

	// HealthCheckInterval is the per-server health probe interval, in seconds.
	HealthCheckInterval int `json:"health_check_interval"`
}

// RequestTimeout returns the per-call timeout as a duration.
func (s ServerSettings) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// RetryPause returns the delay between reconnection attempts as a duration.
func (s ServerSettings) RetryPause() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}

// GlobalSettings are the proxy-wide settings.
type GlobalSettings struct {
	// DiscoveryInterval is the period of the rediscovery loop, in seconds.
	DiscoveryInterval int `json:"discovery_interval"`

	// HealthCheckInterval is the period of the health-check loop, in seconds.
	HealthCheckInterval int `json:"health_check_interval"`

	// MaxConcurrentCalls caps parallel per-server operations inside a
	// discovery pass.
	MaxConcurrentCalls int `json:"max_concurrent_calls"`

	// EnableTimelineLogging turns on the timeline recorder for proxied tool
	// executions.
	EnableTimelineLogging bool `json:"enable_timeline_logging"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// DiscoveryCacheTTL bounds how long a client's cached tool list is served
	// without asking the backend again, in seconds.
	DiscoveryCacheTTL int `json:"discovery_cache_ttl"`

	// HealthCacheTTL bounds how long a health probe result is reused before
	// the backend is probed again, in seconds.
	HealthCacheTTL int `json:"health_cache_ttl"`
}

// DiscoveryPeriod returns the rediscovery loop period as a duration.
func (g GlobalSettings) DiscoveryPeriod() time.Duration {
	return time.Duration(g.DiscoveryInterval) * time.Second
}

// HealthCheckPeriod returns the health-check loop period as a duration.
func (g GlobalSettings) HealthCheckPeriod() time.Duration {
	return time.Duration(g.HealthCheckInterval) * time.Second
}

// DiscoveryCachePeriod returns the tool-list cache TTL as a duration.
func (g GlobalSettings) DiscoveryCachePeriod() time.Duration {
	return time.Duration(g.DiscoveryCacheTTL) * time.Second
}

// HealthCachePeriod returns the health probe cache TTL as a duration.
func (g GlobalSettings) HealthCachePeriod() time.Duration {
	return time.Duration(g.HealthCacheTTL) * time.Second
}

// EnabledServers returns the servers with Enabled set, sorted order is not
// guaranteed.
func (c *Config) EnabledServers() []*ServerConfig {
	servers := make([]*ServerConfig, 0, len(c.MCPServers))
	for _, server := range c.MCPServers {
		if server.Enabled {
			servers = append(servers, server)
		}
	}
	return servers
}
