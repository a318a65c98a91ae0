// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
)

const sessionIDHeader = "Mcp-Session-Id"

// StreamableHTTP speaks the MCP streamable HTTP transport: every client
// message is a POST to one endpoint, and the server answers either with a
// plain JSON body or with a short-lived SSE stream on the same response.
type StreamableHTTP struct {
	url        string
	headers    map[string]string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
	closed    bool

	// delivering tracks goroutines that may still push into messages, so
	// Close can drain them before closing the channel.
	delivering sync.WaitGroup

	messages  chan *jsonrpc.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamableHTTP creates a streamable HTTP transport for the given
// endpoint URL.
func NewStreamableHTTP(url string, headers map[string]string) *StreamableHTTP {
	return &StreamableHTTP{
		url:        url,
		headers:    headers,
		httpClient: &http.Client{},
		messages:   make(chan *jsonrpc.Message, 16),
		done:       make(chan struct{}),
	}
}

// Connect is a no-op for streamable HTTP. The session is established by the
// first POST, which carries the initialize request.
func (s *StreamableHTTP) Connect(_ context.Context) error {
	return nil
}

// Send POSTs one message to the endpoint and routes whatever the server
// sends back into the message channel.
func (s *StreamableHTTP) Send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	s.mu.Lock()
	if s.sessionID != "" {
		req.Header.Set(sessionIDHeader, s.sessionID)
	}
	s.mu.Unlock()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if id := resp.Header.Get(sessionIDHeader); id != "" {
		s.mu.Lock()
		s.sessionID = id
		s.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Notifications are acknowledged with an empty 202.
		resp.Body.Close()
		return nil
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return fmt.Errorf("unexpected status code from server: %d", resp.StatusCode)
	}

	if !s.acquire() {
		resp.Body.Close()
		return errors.New("transport is closed")
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch contentType {
	case "text/event-stream":
		// The response body is a stream; drain it off the caller's path so a
		// slow server does not stall the send.
		go func() {
			defer s.delivering.Done()
			s.readStream(resp.Body)
		}()
		return nil
	case "application/json":
		defer s.delivering.Done()
		defer resp.Body.Close()
		return s.deliverJSON(resp.Body)
	default:
		s.delivering.Done()
		resp.Body.Close()
		return fmt.Errorf("unexpected content type from server: %q", contentType)
	}
}

// Messages returns the inbound message channel.
func (s *StreamableHTTP) Messages() <-chan *jsonrpc.Message {
	return s.messages
}

// Ping probes the endpoint. Any HTTP response means the server is reachable.
func (s *StreamableHTTP) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Close ends the session. The message channel closes once in-flight
// response deliveries have drained.
func (s *StreamableHTTP) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		go func() {
			s.delivering.Wait()
			close(s.messages)
		}()
	})
	return nil
}

func (s *StreamableHTTP) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.delivering.Add(1)
	return true
}

func (s *StreamableHTTP) deliverJSON(body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var msg jsonrpc.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	select {
	case s.messages <- &msg:
		return nil
	case <-s.done:
		return errors.New("transport is closed")
	}
}

func (s *StreamableHTTP) readStream(body io.ReadCloser) {
	defer body.Close()

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			logger.Debugw("response stream read failed", "url", s.url, "err", err)
			return
		}
		if ev.Type != "message" && ev.Type != "" {
			continue
		}

		var msg jsonrpc.Message
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			logger.Warnw("dropping unparsable message from server", "url", s.url, "err", err)
			continue
		}
		select {
		case s.messages <- &msg:
		case <-s.done:
			return
		}
	}
}
