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
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
)

const sseConnectTimeout = 10 * time.Second

// SSE connects to a backend over the MCP SSE transport: a long-lived GET
// stream carries server messages, and the first "endpoint" event names the
// URL that client messages are POSTed to.
type SSE struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client

	mu          sync.Mutex
	messageURL  string
	endpointSet chan struct{}
	streamStop  context.CancelFunc

	messages  chan *jsonrpc.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSE creates an SSE transport for the given stream URL. Headers are sent
// on the stream request and on every message POST.
func NewSSE(baseURL string, headers map[string]string) *SSE {
	return &SSE{
		baseURL:     baseURL,
		headers:     headers,
		httpClient:  &http.Client{},
		endpointSet: make(chan struct{}),
		messages:    make(chan *jsonrpc.Message, 16),
		done:        make(chan struct{}),
	}
}

// Connect opens the event stream and waits for the endpoint event that
// completes session establishment.
func (s *SSE) Connect(ctx context.Context) error {
	// The stream must outlive the connect context; it is torn down by Close.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code from SSE server: %d", resp.StatusCode)
	}

	s.mu.Lock()
	s.streamStop = cancel
	s.mu.Unlock()

	go s.readLoop(resp.Body)

	// The session is not usable until the server has told us where to POST.
	timeout := sseConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	select {
	case <-s.endpointSet:
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case <-time.After(timeout):
		s.Close()
		return errors.New("timed out waiting for endpoint event")
	}
}

// Send POSTs one message to the endpoint announced by the server.
func (s *SSE) Send(ctx context.Context, msg *jsonrpc.Message) error {
	s.mu.Lock()
	messageURL := s.messageURL
	s.mu.Unlock()

	if messageURL == "" {
		return errors.New("transport is not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code from message endpoint: %d", resp.StatusCode)
	}
	return nil
}

// Messages returns the inbound message channel.
func (s *SSE) Messages() <-chan *jsonrpc.Message {
	return s.messages
}

// Ping probes the stream URL. Any HTTP response means the server is
// reachable; only a transport-level failure counts as unhealthy.
func (s *SSE) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL, nil)
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

// Close cancels the event stream.
func (s *SSE) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.streamStop != nil {
			s.streamStop()
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *SSE) readLoop(body io.ReadCloser) {
	defer func() {
		body.Close()
		close(s.messages)
	}()

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debugw("SSE stream read failed", "url", s.baseURL, "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			if err := s.setEndpoint(ev.Data); err != nil {
				logger.Warnw("invalid endpoint event", "url", s.baseURL, "err", err)
				return
			}
		case "message", "":
			var msg jsonrpc.Message
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				logger.Warnw("dropping unparsable SSE message", "url", s.baseURL, "err", err)
				continue
			}
			select {
			case s.messages <- &msg:
			case <-s.done:
				return
			}
		default:
			logger.Debugw("ignoring SSE event", "type", ev.Type)
		}
	}
}

// setEndpoint resolves the announced endpoint against the stream URL so
// relative endpoints work, and unblocks Connect.
func (s *SSE) setEndpoint(raw string) error {
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return err
	}
	endpoint, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	resolved := base.ResolveReference(endpoint).String()
	if resolved == "" {
		return errors.New("empty endpoint URL")
	}

	s.mu.Lock()
	first := s.messageURL == ""
	s.messageURL = resolved
	s.mu.Unlock()

	if first {
		close(s.endpointSet)
	}
	return nil
}
