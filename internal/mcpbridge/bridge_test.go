package mcpbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leeoohoo/subagent-router/internal/model"
)

func stubMCPServer(t *testing.T, toolName string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "stub", "version": "1.0.0"},
			}
		case "tools/list":
			result = listToolsResult{Tools: []mcpTool{{Name: toolName, Description: "a stub tool"}}}
		case "tools/call":
			result = callToolResult{Content: []toolResultContent{{Type: "text", Text: "stub result"}}}
		default:
			result = map[string]any{}
		}

		raw, _ := json.Marshal(result)
		resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestConnectMergesToolsWithServerPrefix(t *testing.T) {
	server := stubMCPServer(t, "read")
	defer server.Close()

	cfg := model.McpServerConfig{
		ID: "srv1", Name: "Task Manager", Transport: model.TransportHTTP,
		EndpointURL: server.URL, Enabled: true,
	}

	bridge := Connect(context.Background(), []model.McpServerConfig{cfg}, nil)
	defer bridge.Close()

	tools := bridge.Tools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Name != "mcp_task_manager_read" {
		t.Errorf("expected prefixed name %q, got %q", "mcp_task_manager_read", tools[0].Name)
	}
}

func TestConnectSkipsDisabledServers(t *testing.T) {
	server := stubMCPServer(t, "read")
	defer server.Close()

	cfg := model.McpServerConfig{
		ID: "srv1", Name: "Disabled", Transport: model.TransportHTTP,
		EndpointURL: server.URL, Enabled: false,
	}

	bridge := Connect(context.Background(), []model.McpServerConfig{cfg}, nil)
	defer bridge.Close()

	if len(bridge.Tools()) != 0 {
		t.Errorf("expected no tools from a disabled server")
	}
}

func TestAllowPrefixFiltersNonMatchingTools(t *testing.T) {
	server := stubMCPServer(t, "read")
	defer server.Close()

	cfg := model.McpServerConfig{
		ID: "srv1", Name: "Task Manager", Transport: model.TransportHTTP,
		EndpointURL: server.URL, Enabled: true,
	}

	bridge := Connect(context.Background(), []model.McpServerConfig{cfg}, []string{"mcp_other_"})
	defer bridge.Close()

	if len(bridge.Tools()) != 0 {
		t.Errorf("expected tool filtered out by non-matching allow prefix")
	}
}

func TestCallToolDispatchesAndReturnsContent(t *testing.T) {
	server := stubMCPServer(t, "read")
	defer server.Close()

	cfg := model.McpServerConfig{
		ID: "srv1", Name: "Task Manager", Transport: model.TransportHTTP,
		EndpointURL: server.URL, Enabled: true,
	}

	bridge := Connect(context.Background(), []model.McpServerConfig{cfg}, nil)
	defer bridge.Close()

	result := bridge.CallTool(context.Background(), "mcp_task_manager_read", json.RawMessage(`{}`))
	if !result.OK {
		t.Fatalf("expected ok result, got error %q", result.Error)
	}
	if result.Content != "stub result" {
		t.Errorf("expected content %q, got %q", "stub result", result.Content)
	}
	if result.ServerName != "Task Manager" {
		t.Errorf("expected server name %q, got %q", "Task Manager", result.ServerName)
	}
}

func TestCallToolUnknownNameReturnsError(t *testing.T) {
	bridge := Connect(context.Background(), nil, nil)
	defer bridge.Close()

	result := bridge.CallTool(context.Background(), "mcp_missing_tool", json.RawMessage(`{}`))
	if result.OK {
		t.Error("expected ok=false for an unknown tool name")
	}
}

func TestFirstOccurrenceWinsOnPrefixedNameCollision(t *testing.T) {
	serverA := stubMCPServer(t, "read")
	defer serverA.Close()
	serverB := stubMCPServer(t, "read")
	defer serverB.Close()

	cfgA := model.McpServerConfig{ID: "a", Name: "Dup", Transport: model.TransportHTTP, EndpointURL: serverA.URL, Enabled: true}
	cfgB := model.McpServerConfig{ID: "b", Name: "Dup", Transport: model.TransportHTTP, EndpointURL: serverB.URL, Enabled: true}

	bridge := Connect(context.Background(), []model.McpServerConfig{cfgA, cfgB}, nil)
	defer bridge.Close()

	tools := bridge.Tools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 merged tool on collision, got %d", len(tools))
	}

	result := bridge.CallTool(context.Background(), "mcp_dup_read", json.RawMessage(`{}`))
	if result.ServerID != "a" {
		t.Errorf("expected first-registered server %q to win, got %q", "a", result.ServerID)
	}
}
