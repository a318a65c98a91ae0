// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
)

func mustRequest(t *testing.T, id int64, method string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewRequest(id, method, nil)
	require.NoError(t, err)
	return msg
}

func TestFactoryCreate(t *testing.T) {
	t.Parallel()

	factory := NewFactory()

	tests := []struct {
		name    string
		cfg     *config.ServerConfig
		want    any
		wantErr error
	}{
		{
			name: "stdio",
			cfg:  &config.ServerConfig{Type: config.TransportStdio, Command: "mcp-server"},
			want: &Stdio{},
		},
		{
			name: "sse",
			cfg:  &config.ServerConfig{Type: config.TransportSSE, URL: "http://localhost/sse"},
			want: &SSE{},
		},
		{
			name: "streamable http",
			cfg:  &config.ServerConfig{Type: config.TransportStreamableHTTP, URL: "http://localhost/mcp"},
			want: &StreamableHTTP{},
		},
		{
			name:    "unsupported",
			cfg:     &config.ServerConfig{Type: "grpc"},
			wantErr: proxy.ErrUnsupportedTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := factory.Create(tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}

// cat echoes stdin to stdout line by line, which makes it a perfect fake
// newline-delimited JSON-RPC server.
func TestStdioRoundTrip(t *testing.T) {
	t.Parallel()

	tr := NewStdio("cat", nil, nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.Ping(context.Background()))

	req := mustRequest(t, 1, "tools/list")
	require.NoError(t, tr.Send(context.Background(), req))

	select {
	case msg := <-tr.Messages():
		require.NotNil(t, msg)
		require.NotNil(t, msg.ID)
		assert.Equal(t, int64(1), *msg.ID)
		assert.Equal(t, "tools/list", msg.Method)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestStdioSendBeforeConnect(t *testing.T) {
	t.Parallel()

	tr := NewStdio("cat", nil, nil)
	err := tr.Send(context.Background(), mustRequest(t, 1, "ping"))
	require.Error(t, err)
	require.Error(t, tr.Ping(context.Background()))
}

func TestStdioDetectsExit(t *testing.T) {
	t.Parallel()

	tr := NewStdio("true", nil, nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	// The channel closing confirms the process is gone.
	select {
	case _, ok := <-tr.Messages():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message channel to close")
	}

	require.Eventually(t, func() bool {
		return tr.Ping(context.Background()) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSSEConnectAndSend(t *testing.T) {
	t.Parallel()

	var posted atomic.Pointer[jsonrpc.Message]

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "event: endpoint\ndata: /messages?session=abc\n\n")
		flusher.Flush()
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{}}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg jsonrpc.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		posted.Store(&msg)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := NewSSE(srv.URL+"/sse", map[string]string{"Authorization": "Bearer t"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	// The endpoint event arrived, so sends go to the resolved URL.
	require.NoError(t, tr.Send(ctx, mustRequest(t, 7, "tools/list")))
	require.Eventually(t, func() bool { return posted.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "tools/list", posted.Load().Method)

	select {
	case msg := <-tr.Messages():
		require.NotNil(t, msg.ID)
		assert.Equal(t, int64(7), *msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server message")
	}

	require.NoError(t, tr.Ping(ctx))
}

func TestSSESendBeforeEndpoint(t *testing.T) {
	t.Parallel()

	tr := NewSSE("http://localhost:1/sse", nil)
	require.Error(t, tr.Send(context.Background(), mustRequest(t, 1, "ping")))
}

func TestStreamableHTTPJSONResponse(t *testing.T) {
	t.Parallel()

	var sawSession atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Header.Get(sessionIDHeader) == "session-1" {
			sawSession.Store(true)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(sessionIDHeader, "session-1")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":3,"result":{"tools":[]}}`)
	}))
	defer srv.Close()

	tr := NewStreamableHTTP(srv.URL, nil)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, mustRequest(t, 3, "tools/list")))

	select {
	case msg := <-tr.Messages():
		require.NotNil(t, msg.ID)
		assert.Equal(t, int64(3), *msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	// The captured session id is replayed on the next request.
	require.NoError(t, tr.Send(ctx, mustRequest(t, 4, "tools/list")))
	require.Eventually(t, func() bool { return sawSession.Load() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Ping(ctx))
}

func TestStreamableHTTPStreamedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":9,\"result\":{}}\n\n")
	}))
	defer srv.Close()

	tr := NewStreamableHTTP(srv.URL, nil)
	require.NoError(t, tr.Send(context.Background(), mustRequest(t, 9, "initialize")))
	defer tr.Close()

	select {
	case msg := <-tr.Messages():
		require.NotNil(t, msg.ID)
		assert.Equal(t, int64(9), *msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for streamed response")
	}
}

func TestStreamableHTTPNotificationAccepted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewStreamableHTTP(srv.URL, nil)
	defer tr.Close()
	note, err := jsonrpc.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), note))
}

func TestStreamableHTTPSendAfterClose(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := NewStreamableHTTP(srv.URL, nil)
	require.NoError(t, tr.Close())
	require.Error(t, tr.Send(context.Background(), mustRequest(t, 1, "tools/list")))
}
