// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	t.Parallel()

	id := int64(7)
	tests := []struct {
		name           string
		msg            Message
		isRequest      bool
		isNotification bool
		isResponse     bool
	}{
		{
			name:      "request has method and id",
			msg:       Message{JSONRPC: Version, ID: &id, Method: "tools/list"},
			isRequest: true,
		},
		{
			name:           "notification has method without id",
			msg:            Message{JSONRPC: Version, Method: "notifications/initialized"},
			isNotification: true,
		},
		{
			name:       "response has id without method",
			msg:        Message{JSONRPC: Version, ID: &id, Result: json.RawMessage(`{}`)},
			isResponse: true,
		},
		{
			name: "empty envelope is nothing",
			msg:  Message{JSONRPC: Version},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.isRequest, tt.msg.IsRequest())
			assert.Equal(t, tt.isNotification, tt.msg.IsNotification())
			assert.Equal(t, tt.isResponse, tt.msg.IsResponse())
		})
	}
}

func TestNewRequestRoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := NewRequest(42, "tools/call", map[string]any{"name": "echo_tool"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, decoded.IsRequest())
	require.NotNil(t, decoded.ID)
	assert.Equal(t, int64(42), *decoded.ID)
	assert.Equal(t, "tools/call", decoded.Method)
	assert.JSONEq(t, `{"name":"echo_tool"}`, string(decoded.Params))
}

func TestNewNotificationOmitsID(t *testing.T) {
	t.Parallel()

	msg, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	e := &Error{Code: CodeMethodNotFound, Message: "no such method"}
	assert.EqualError(t, e, "jsonrpc error -32601: no such method")
}
