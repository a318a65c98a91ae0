// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package config

// Default values applied to fields the config file leaves at zero.
// This is the single source of truth for configuration defaults.
const (
	defaultTimeout             = 30
	defaultRetryAttempts       = 3
	defaultRetryDelay          = 5
	defaultHealthCheckInterval = 60

	defaultDiscoveryInterval    = 300
	defaultGlobalHealthInterval = 60
	defaultMaxConcurrentCalls   = 10
	defaultLogLevel             = "info"
	defaultDiscoveryCacheTTL    = 30
	defaultHealthCacheTTL       = 10
)

// ApplyDefaults fills every zero-valued tunable with its default. It is
// called by the loader after parsing and before validation, so validation
// only ever sees fully populated settings.
func (c *Config) ApplyDefaults() {
	for _, server := range c.MCPServers {
		server.Settings.applyDefaults()
	}
	c.Global.applyDefaults()
}

func (s *ServerSettings) applyDefaults() {
	if s.Timeout == 0 {
		s.Timeout = defaultTimeout
	}
	if s.RetryAttempts == 0 {
		s.RetryAttempts = defaultRetryAttempts
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = defaultRetryDelay
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = defaultHealthCheckInterval
	}
}

func (g *GlobalSettings) applyDefaults() {
	if g.DiscoveryInterval == 0 {
		g.DiscoveryInterval = defaultDiscoveryInterval
	}
	if g.HealthCheckInterval == 0 {
		g.HealthCheckInterval = defaultGlobalHealthInterval
	}
	if g.MaxConcurrentCalls == 0 {
		g.MaxConcurrentCalls = defaultMaxConcurrentCalls
	}
	if g.LogLevel == "" {
		g.LogLevel = defaultLogLevel
	}
	if g.DiscoveryCacheTTL == 0 {
		g.DiscoveryCacheTTL = defaultDiscoveryCacheTTL
	}
	if g.HealthCacheTTL == 0 {
		g.HealthCacheTTL = defaultHealthCacheTTL
	}
}
