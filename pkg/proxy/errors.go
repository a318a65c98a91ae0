// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the toolgate subpackages. Callers check these
// with errors.Is(); wrapping errors add the specific context (server, tool,
// parameter).
var (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrConfigFormat indicates the configuration file could not be parsed.
	ErrConfigFormat = errors.New("configuration file is not valid JSON")

	// ErrInvalidConfig indicates the configuration parsed but failed
	// validation. No partial configuration survives this error.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidTool indicates a backend reported a tool the proxy refuses to
	// register (missing name/description or malformed schema).
	ErrInvalidTool = errors.New("invalid tool definition")

	// ErrNotConnected indicates an operation that requires a live connection
	// was attempted while the client is disconnected or failed.
	ErrNotConnected = errors.New("client is not connected")

	// ErrNotInitialized indicates the engine was used before Initialize.
	ErrNotInitialized = errors.New("engine is not initialized")

	// ErrUnsupportedTransport indicates a server config names a transport
	// type the factory does not support.
	ErrUnsupportedTransport = errors.New("unsupported transport type")

	// ErrTimeout indicates a request did not receive a response within the
	// configured per-call timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrServerNotFound indicates no client exists for the named server.
	ErrServerNotFound = errors.New("server not found")

	// ErrToolNotFound indicates the registry holds no tool under the name.
	ErrToolNotFound = errors.New("tool not found")
)

// ValidationError rejects a proxy call before it reaches the backend. It
// names the offending parameter and the expected type or constraint.
type ValidationError struct {
	Tool     string
	Param    string
	Expected string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("validation failed for tool %q: %s", e.Tool, e.Expected)
	}
	return fmt.Sprintf("invalid parameter %q for tool %q: expected %s", e.Param, e.Tool, e.Expected)
}

// ProcessingError indicates a backend returned a result envelope the proxy
// cannot normalize.
type ProcessingError struct {
	Tool   string
	Server string
	Reason string
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("malformed result from tool %q on server %q: %s", e.Tool, e.Server, e.Reason)
}
