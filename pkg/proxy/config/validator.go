// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/ngardiner/toolgate/pkg/proxy"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validator performs semantic validation of a parsed configuration.
type Validator struct{}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole document and collects every problem into one
// error, so an operator can fix a broken file in a single pass.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", proxy.ErrInvalidConfig)
	}

	var problems []string

	for name, server := range cfg.MCPServers {
		if err := v.validateServer(name, server); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if err := v.validateGlobal(&cfg.Global); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", proxy.ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}

func (*Validator) validateServer(name string, server *ServerConfig) error {
	if name == "" {
		return fmt.Errorf("server name must not be empty")
	}

	switch server.Type {
	case TransportStdio:
		if server.Command == "" {
			return fmt.Errorf("server %q: stdio transport requires command", name)
		}
	case TransportSSE, TransportStreamableHTTP:
		if server.URL == "" {
			return fmt.Errorf("server %q: %s transport requires url", name, server.Type)
		}
	case "":
		return fmt.Errorf("server %q: type is required", name)
	default:
		return fmt.Errorf("server %q: unsupported transport type %q", name, server.Type)
	}

	s := server.Settings
	if s.Timeout < 0 || s.RetryAttempts < 0 || s.RetryDelay < 0 || s.HealthCheckInterval < 0 {
		return fmt.Errorf("server %q: settings must be positive", name)
	}

	return nil
}

func (*Validator) validateGlobal(g *GlobalSettings) error {
	if g.DiscoveryInterval < 1 {
		return fmt.Errorf("global_settings.discovery_interval must be at least 1 second")
	}
	if g.HealthCheckInterval < 1 {
		return fmt.Errorf("global_settings.health_check_interval must be at least 1 second")
	}
	if g.MaxConcurrentCalls < 1 {
		return fmt.Errorf("global_settings.max_concurrent_calls must be at least 1")
	}
	if g.DiscoveryCacheTTL < 0 || g.HealthCacheTTL < 0 {
		return fmt.Errorf("global_settings cache TTLs must not be negative")
	}

	for _, level := range validLogLevels {
		if g.LogLevel == level {
			return nil
		}
	}
	return fmt.Errorf("global_settings.log_level must be one of: %s", strings.Join(validLogLevels, ", "))
}
