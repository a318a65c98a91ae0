// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ngardiner/toolgate/pkg/proxy"
)

// Load reads, parses, defaults and validates the configuration file at path.
// The three failure modes are distinguishable with errors.Is: a missing file
// wraps proxy.ErrConfigNotFound, unparsable JSON wraps proxy.ErrConfigFormat,
// and a semantically invalid document wraps proxy.ErrInvalidConfig. No
// partially loaded configuration is ever returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", proxy.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", proxy.ErrConfigFormat, path, err)
	}

	// Copy map keys into the server configs so each carries its own name.
	for name, server := range cfg.MCPServers {
		if server == nil {
			return nil, fmt.Errorf("%w: server %q has no definition", proxy.ErrInvalidConfig, name)
		}
		server.Name = name
	}

	cfg.ApplyDefaults()

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
