package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// client wraps one upstream MCP server connection: the transport plus its
// cached tool list.
type client struct {
	cfg       model.McpServerConfig
	transport transport
	tools     []mcpTool
}

func connectClient(ctx context.Context, cfg model.McpServerConfig) (*client, error) {
	c := &client{cfg: cfg, transport: newTransport(cfg)}

	if err := c.transport.connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Name, err)
	}

	initParams := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "subagent-router", "version": "1.0.0"},
	}
	if _, err := c.transport.call(ctx, "initialize", initParams); err != nil {
		c.transport.close()
		return nil, fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	raw, err := c.transport.call(ctx, "tools/list", nil)
	if err != nil {
		c.transport.close()
		return nil, fmt.Errorf("tools/list %s: %w", cfg.Name, err)
	}
	var listed listToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		c.transport.close()
		return nil, fmt.Errorf("parse tools/list %s: %w", cfg.Name, err)
	}
	c.tools = listed.Tools
	return c, nil
}

func (c *client) callTool(ctx context.Context, toolName string, argumentsJSON json.RawMessage) (callToolResult, error) {
	raw, err := c.transport.call(ctx, "tools/call", callToolParams{Name: toolName, Arguments: argumentsJSON})
	if err != nil {
		return callToolResult{}, err
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return callToolResult{}, fmt.Errorf("parse tools/call result: %w", err)
	}
	return result, nil
}

func (c *client) close() error {
	return c.transport.close()
}
