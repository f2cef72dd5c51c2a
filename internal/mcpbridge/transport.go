// Package mcpbridge connects to upstream MCP tool servers (stdio, http, or
// sse) and exposes their tools merged into one renamed, prefix-filtered set.
package mcpbridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "mcpbridge")

// transport is the minimal surface every upstream connection kind provides.
type transport interface {
	connect(ctx context.Context) error
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	close() error
}

func newTransport(cfg model.McpServerConfig) transport {
	switch cfg.Transport {
	case model.TransportHTTP:
		return newHTTPTransport(cfg)
	case model.TransportSSE:
		return newSSETransport(cfg)
	default:
		return newStdioTransport(cfg)
	}
}
