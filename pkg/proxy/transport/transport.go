// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the physical channels that carry JSON-RPC
// messages between toolgate and backend MCP servers. One implementation
// exists per connection kind: subprocess stdio, SSE, and streamable HTTP.
package transport

import (
	"context"

	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
)

// Transport owns one physical channel to a backend server and exposes raw
// send/receive. Request/response correlation lives one layer up in the
// client; a transport only moves complete messages.
type Transport interface {
	// Connect establishes the physical channel: spawn the subprocess, open
	// the SSE stream, or prepare the HTTP session.
	Connect(ctx context.Context) error

	// Send writes one message to the channel.
	Send(ctx context.Context, msg *jsonrpc.Message) error

	// Messages returns the channel of inbound messages. The channel is
	// closed when the underlying connection dies or Close is called.
	Messages() <-chan *jsonrpc.Message

	// Ping performs a lightweight liveness probe without a protocol
	// round-trip: a process-alive check for stdio, HEAD/GET for the network
	// transports.
	Ping(ctx context.Context) error

	// Close tears the channel down. It is safe to call more than once.
	Close() error
}

// Factory creates transports from server configuration.
type Factory struct{}

// NewFactory creates a transport factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the transport matching the server's configured type.
func (*Factory) Create(cfg *config.ServerConfig) (Transport, error) {
	switch cfg.Type {
	case config.TransportStdio:
		return NewStdio(cfg.Command, cfg.Args, cfg.Env), nil
	case config.TransportSSE:
		return NewSSE(cfg.URL, cfg.Headers), nil
	case config.TransportStreamableHTTP:
		return NewStreamableHTTP(cfg.URL, cfg.Headers), nil
	default:
		return nil, proxy.ErrUnsupportedTransport
	}
}
