// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy/generator"
)

// MCPGoHost adapts an mcp-go MCPServer to the HostServer surface, so the
// aggregated catalog can be served back out over MCP.
type MCPGoHost struct {
	server *server.MCPServer
}

// NewMCPGoHost wraps an mcp-go server.
func NewMCPGoHost(s *server.MCPServer) *MCPGoHost {
	return &MCPGoHost{server: s}
}

// AddTool registers one proxy function as an MCP tool. Results are returned
// as a JSON text block; handler errors become MCP tool errors rather than
// protocol errors, so the calling agent sees them.
func (h *MCPGoHost) AddTool(name, description string, inputSchema map[string]any, handler generator.Handler) {
	tool := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: toolInputSchema(inputSchema),
	}

	h.server.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]any)
		if !ok {
			args = map[string]any{}
		}
		result, err := handler(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload, err := json.Marshal(result)
		if err != nil {
			logger.Errorw("failed to encode tool result", "tool", name, "err", err)
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

func toolInputSchema(inputSchema map[string]any) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object"}
	if inputSchema == nil {
		return schema
	}
	if t, ok := inputSchema["type"].(string); ok && t != "" {
		schema.Type = t
	}
	if props, ok := inputSchema["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if required, ok := inputSchema["required"].([]any); ok {
		for _, item := range required {
			if s, ok := item.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}
