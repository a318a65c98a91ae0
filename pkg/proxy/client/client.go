// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the MCP client session toolgate holds against
// each backend server: the initialize handshake, request/response
// correlation on top of a raw transport, cached tool discovery, cached
// health probing, and bounded reconnection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
	"github.com/ngardiner/toolgate/pkg/proxy/transport"
)

// State is the client connection state.
type State string

// Connection states. Failed differs from Disconnected: it means the last
// connect or reconnect attempt was tried and did not succeed.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Dialer builds a fresh transport for each connection attempt. A transport
// is single-use, so reconnection needs a new one.
type Dialer func() (transport.Transport, error)

// Client is one MCP session against one backend server.
type Client struct {
	serverName string
	dial       Dialer
	settings   config.ServerSettings
	global     config.GlobalSettings

	mu         sync.Mutex
	state      State
	transport  transport.Transport
	serverInfo *proxy.ServerInfo
	pending    map[int64]chan *jsonrpc.Message

	nextID atomic.Int64

	toolsMu      sync.Mutex
	cachedTools  []proxy.Tool
	toolsFetched time.Time

	healthMu   sync.Mutex
	lastHealth *proxy.ServerHealth
}

// New creates a client for the named server. The dialer is invoked on every
// connect and reconnect attempt.
func New(serverName string, dial Dialer, settings config.ServerSettings, global config.GlobalSettings) *Client {
	return &Client{
		serverName: serverName,
		dial:       dial,
		settings:   settings,
		global:     global,
		state:      StateDisconnected,
		pending:    make(map[int64]chan *jsonrpc.Message),
	}
}

// ServerName returns the configured backend server name.
func (c *Client) ServerName() string {
	return c.serverName
}

// Settings returns the per-server tunables this client was built with.
func (c *Client) Settings() config.ServerSettings {
	return c.settings
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the identity the backend reported during initialize,
// or nil before the first successful handshake.
func (c *Client) ServerInfo() *proxy.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Connect dials the transport and runs the MCP initialize handshake. On any
// failure the client lands in StateFailed with the transport torn down.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("connection to %q already in progress", c.serverName)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	tr, err := c.dial()
	if err != nil {
		c.fail()
		return fmt.Errorf("failed to create transport for %q: %w", c.serverName, err)
	}
	if err := tr.Connect(ctx); err != nil {
		tr.Close()
		c.fail()
		return fmt.Errorf("failed to connect to %q: %w", c.serverName, err)
	}

	c.mu.Lock()
	c.transport = tr
	c.mu.Unlock()

	go c.readLoop(tr)

	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		c.fail()
		return fmt.Errorf("handshake with %q failed: %w", c.serverName, err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	logger.Infow("connected to backend server", "server", c.serverName)
	return nil
}

// Disconnect tears the session down and fails every pending request. It is
// safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	tr := c.transport
	c.transport = nil
	c.state = StateDisconnected
	pending := c.pending
	c.pending = make(map[int64]chan *jsonrpc.Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if tr != nil {
		tr.Close()
	}
}

// Reconnect retries Connect with a constant pause between attempts, bounded
// by the configured retry count. It reports whether a connection was
// reestablished.
func (c *Client) Reconnect(ctx context.Context) bool {
	attempts := c.settings.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		c.Disconnect()
		if err := c.Connect(ctx); err != nil {
			logger.Debugw("reconnect attempt failed", "server", c.serverName, "err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.settings.RetryPause())),
		backoff.WithMaxTries(uint(attempts)),
	)

	if err != nil {
		c.fail()
		logger.Warnw("backend server did not come back", "server", c.serverName, "attempts", attempts)
		return false
	}
	return true
}

// DiscoverTools fetches the backend's tool catalog. Results are cached for
// the configured TTL; force bypasses the cache.
func (c *Client) DiscoverTools(ctx context.Context, force bool) ([]proxy.Tool, error) {
	c.toolsMu.Lock()
	ttl := c.global.DiscoveryCachePeriod()
	if !force && c.cachedTools != nil && time.Since(c.toolsFetched) < ttl {
		tools := c.cachedTools
		c.toolsMu.Unlock()
		return tools, nil
	}
	c.toolsMu.Unlock()

	result, err := c.SendRequest(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse tools/list response from %q: %w", c.serverName, err)
	}

	tools := make([]proxy.Tool, 0, len(listing.Tools))
	for _, raw := range listing.Tools {
		tool, err := proxy.NewTool(raw.Name, raw.Description, raw.InputSchema, c.serverName)
		if err != nil {
			// One broken tool must not sink the rest of the catalog.
			logger.Warnw("skipping invalid tool", "server", c.serverName, "tool", raw.Name, "err", err)
			continue
		}
		tools = append(tools, tool)
	}

	c.toolsMu.Lock()
	c.cachedTools = tools
	c.toolsFetched = time.Now()
	c.toolsMu.Unlock()

	return tools, nil
}

// CallTool invokes a tool by its backend name and returns the result as a
// JSON object. Results flagged isError by the backend become errors here.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.SendRequest(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return extractToolResult(c.serverName, name, result)
}

// IsHealthy probes the transport, reusing the last probe result within the
// configured TTL.
func (c *Client) IsHealthy(ctx context.Context) bool {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	ttl := c.global.HealthCachePeriod()
	if c.lastHealth != nil && time.Since(c.lastHealth.CheckedAt) < ttl {
		return c.lastHealth.Healthy
	}

	health := proxy.ServerHealth{
		ServerName: c.serverName,
		CheckedAt:  time.Now(),
	}

	c.mu.Lock()
	tr := c.transport
	connected := c.state == StateConnected
	c.mu.Unlock()

	switch {
	case !connected || tr == nil:
		health.Error = proxy.ErrNotConnected.Error()
	default:
		if err := tr.Ping(ctx); err != nil {
			health.Error = err.Error()
		} else {
			health.Healthy = true
		}
	}

	c.lastHealth = &health
	return health.Healthy
}

// Health returns the most recent probe outcome, or a never-probed record.
func (c *Client) Health() proxy.ServerHealth {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.lastHealth == nil {
		return proxy.ServerHealth{ServerName: c.serverName, Error: "not yet probed"}
	}
	return *c.lastHealth
}

// SendRequest performs one correlated request/response exchange, bounded by
// the per-server timeout. It returns the raw result member.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: server %q is %s", proxy.ErrNotConnected, c.serverName, c.state)
	}
	tr := c.transport
	c.mu.Unlock()

	return c.exchange(ctx, tr, method, params)
}

// exchange is SendRequest without the connected-state gate, so the
// handshake can use it while the client is still Connecting.
func (c *Client) exchange(ctx context.Context, tr transport.Transport, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	slot := make(chan *jsonrpc.Message, 1)
	c.mu.Lock()
	c.pending[id] = slot
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.settings.RequestTimeout())
	defer cancel()

	if err := tr.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send %s to %q: %w", method, c.serverName, err)
	}

	select {
	case resp, ok := <-slot:
		if !ok {
			return nil, fmt.Errorf("%w: connection to %q lost", proxy.ErrNotConnected, c.serverName)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s on %q failed: %w", method, c.serverName, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s to %q after %s", proxy.ErrTimeout, method, c.serverName, c.settings.RequestTimeout())
		}
		return nil, ctx.Err()
	}
}

func (c *Client) handshake(ctx context.Context) error {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()

	result, err := c.exchange(ctx, tr, "initialize", map[string]any{
		"protocolVersion": proxy.DefaultProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "toolgate",
			"version": proxy.Version,
		},
	})
	if err != nil {
		return err
	}

	var init struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("failed to parse initialize response: %w", err)
	}

	info := proxy.NewServerInfo(init.ServerInfo.Name, init.ServerInfo.Version, init.ProtocolVersion, init.Capabilities)
	c.mu.Lock()
	c.serverInfo = &info
	c.mu.Unlock()

	note, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return err
	}
	return tr.Send(ctx, note)
}

func (c *Client) readLoop(tr transport.Transport) {
	for msg := range tr.Messages() {
		switch {
		case msg.IsResponse():
			c.mu.Lock()
			slot, ok := c.pending[*msg.ID]
			if ok {
				delete(c.pending, *msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				logger.Debugw("dropping uncorrelated response", "server", c.serverName, "id", *msg.ID)
				continue
			}
			slot <- msg
		case msg.IsNotification():
			logger.Debugw("backend notification", "server", c.serverName, "method", msg.Method)
		default:
			// Server-to-client requests (sampling, roots) are out of scope.
			logger.Debugw("ignoring backend request", "server", c.serverName, "method", msg.Method)
		}
	}

	// Channel closed: the connection is gone. Fail whoever is still waiting,
	// but only if this reader still owns the live connection. After a
	// reconnect a stale reader may drain long after the replacement is up,
	// and it must not touch the new connection's slots.
	c.mu.Lock()
	if c.transport != tr {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	if c.state == StateConnected || c.state == StateConnecting {
		c.state = StateDisconnected
	}
	pending := c.pending
	c.pending = make(map[int64]chan *jsonrpc.Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) fail() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

// extractToolResult normalizes a tools/call result into a JSON object.
// Preference order: structuredContent, then the first text content block
// parsed as JSON, then the raw text wrapped in an object.
func extractToolResult(server, tool string, raw json.RawMessage) (map[string]any, error) {
	body := gjson.ParseBytes(raw)

	if body.Get("isError").Bool() {
		text := body.Get(`content.#(type=="text").text`).String()
		if text == "" {
			text = "tool reported an error"
		}
		return nil, fmt.Errorf("tool %q on %q failed: %s", tool, server, text)
	}

	if structured := body.Get("structuredContent"); structured.IsObject() {
		var out map[string]any
		if err := json.Unmarshal([]byte(structured.Raw), &out); err == nil {
			return out, nil
		}
	}

	text := body.Get(`content.#(type=="text").text`).String()
	if text != "" {
		var out map[string]any
		if err := json.Unmarshal([]byte(text), &out); err == nil {
			return out, nil
		}
		return map[string]any{"text": text}, nil
	}

	return map[string]any{}, nil
}
