package mcpbridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/model"
)

// toolRoute is where a merged, prefixed tool name dispatches to.
type toolRoute struct {
	client      *client
	serverID    string
	serverName  string
	rawToolName string
	description string
	inputSchema json.RawMessage
}

// Bridge holds one connected client per enabled upstream server and a
// merged, renamed, allow-prefix-filtered tool table.
type Bridge struct {
	mu      sync.Mutex
	clients []*client
	routes  map[string]toolRoute
	order   []string
}

// Connect opens a client per enabled server, skipping (and logging) any
// that fail to connect so one bad upstream doesn't take down the rest.
// allowPrefixes, if non-empty, filters the merged tool set to names
// matching at least one prefix.
func Connect(ctx context.Context, servers []model.McpServerConfig, allowPrefixes []string) *Bridge {
	b := &Bridge{routes: map[string]toolRoute{}}

	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		c, err := connectClient(ctx, cfg)
		if err != nil {
			logger.Warn("failed to connect mcp server", "server", cfg.Name, "error", err)
			continue
		}
		b.clients = append(b.clients, c)
		b.mergeTools(cfg, c, allowPrefixes)
	}

	return b
}

func (b *Bridge) mergeTools(cfg model.McpServerConfig, c *client, allowPrefixes []string) {
	prefix := ids.McpPrefix(cfg.Name)
	for _, t := range c.tools {
		prefixedName := t.Name
		if !strings.HasPrefix(prefixedName, prefix) {
			prefixedName = prefix + t.Name
		}
		if len(allowPrefixes) > 0 && !matchesAnyPrefix(prefixedName, allowPrefixes) {
			continue
		}
		if _, exists := b.routes[prefixedName]; exists {
			continue // first occurrence wins
		}
		b.routes[prefixedName] = toolRoute{
			client:      c,
			serverID:    cfg.ID,
			serverName:  cfg.Name,
			rawToolName: t.Name,
			description: t.Description,
			inputSchema: t.InputSchema,
		}
		b.order = append(b.order, prefixedName)
	}
}

func matchesAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ToolDecl is the subset of tool metadata callers (the tool-call loop, the
// router's system-prompt assembly) need, independent of llmdriver's types
// to avoid a package-layering dependency.
type ToolDecl struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Tools returns the merged, renamed, filtered tool set in first-seen order.
func (b *Bridge) Tools() []ToolDecl {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ToolDecl, 0, len(b.order))
	for _, name := range b.order {
		route := b.routes[name]
		out = append(out, ToolDecl{Name: name, Description: route.description, Schema: route.inputSchema})
	}
	return out
}

// CallToolResult is the JSON-serializable shape returned by CallTool.
// CallTool does not fill Structured: only the upstream text content blocks
// are carried through, concatenated into Content.
type CallToolResult struct {
	OK         bool   `json:"ok"`
	ServerID   string `json:"server_id,omitempty"`
	ServerName string `json:"server_name,omitempty"`
	Tool       string `json:"tool"`
	Content    string `json:"content,omitempty"`
	Structured any    `json:"structured,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CallTool dispatches prefixedName to its originating client.
func (b *Bridge) CallTool(ctx context.Context, prefixedName string, argumentsJSON json.RawMessage) CallToolResult {
	b.mu.Lock()
	route, ok := b.routes[prefixedName]
	b.mu.Unlock()

	if !ok {
		return CallToolResult{OK: false, Tool: prefixedName, Error: "unknown tool " + prefixedName}
	}

	result, err := route.client.callTool(ctx, route.rawToolName, argumentsJSON)
	if err != nil {
		return CallToolResult{
			OK: false, ServerID: route.serverID, ServerName: route.serverName,
			Tool: prefixedName, Error: err.Error(),
		}
	}

	var content strings.Builder
	for _, c := range result.Content {
		content.WriteString(c.Text)
	}

	return CallToolResult{
		OK: true, ServerID: route.serverID, ServerName: route.serverName,
		Tool: prefixedName, Content: content.String(), IsError: result.IsError,
	}
}

// Close closes every connected client. Must be called on every exit path of
// a tool-using run.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		if err := c.close(); err != nil {
			logger.Warn("failed to close mcp client", "error", err)
		}
	}
}
