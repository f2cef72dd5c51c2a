package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/configstore"
	"github.com/leeoohoo/subagent-router/internal/jobstore"
	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/router"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	doc := struct {
		Agents []model.Agent `json:"agents"`
	}{
		Agents: []model.Agent{
			{
				ID:   "echoer",
				Name: "Echoer",
				Commands: []model.Command{
					{ID: "run", Exec: []string{"sh", "-c", "echo hi"}},
				},
				DefaultCommand: "run",
			},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal registry: %v", err)
	}
	if err := os.WriteFile(registryPath, raw, 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	cat, err := catalog.New("", "", registryPath)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	cfg, err := configstore.Open(":memory:")
	if err != nil {
		t.Fatalf("configstore.Open: %v", err)
	}
	t.Cleanup(func() { cfg.Close() })
	jobs, err := jobstore.Open(":memory:")
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() { jobs.Close() })

	r := router.New(cat, cfg, jobs, router.Defaults{
		CommandTimeoutMs:      5000,
		CommandMaxOutputBytes: 1 << 16,
	}, "session-1", "run-1")

	return New("test_server", r)
}

func runLines(t *testing.T, s *Server, lines ...string) []jsonrpcResponse {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var responses []jsonrpcResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp jsonrpcResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestToolsListReturnsSixTools(t *testing.T) {
	s := newTestServer(t)
	resps := runLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	raw, err := json.Marshal(resps[0].Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var listed listToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	if len(listed.Tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(listed.Tools))
	}
}

func TestGetSubAgentNotFoundReturnsError(t *testing.T) {
	s := newTestServer(t)
	resps := runLines(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_sub_agent","arguments":{"agent_id":"missing"}}}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error == nil {
		t.Fatal("expected an error response for unknown agent")
	}
}

func TestRunSubAgentRoundTrips(t *testing.T) {
	s := newTestServer(t)
	resps := runLines(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"run_sub_agent","arguments":{"agent_id":"echoer","task":"say hi"}}}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("unexpected error: %v", resps[0].Error)
	}

	raw, err := json.Marshal(resps[0].Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var wrapper callToolResult
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		t.Fatalf("unmarshal call result: %v", err)
	}
	if len(wrapper.Content) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(wrapper.Content))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(wrapper.Content[0].Text), &payload); err != nil {
		t.Fatalf("unmarshal payload text: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	chatos, ok := payload["chatos"].(map[string]any)
	if !ok {
		t.Fatalf("expected chatos envelope, got %v", payload["chatos"])
	}
	if chatos["server"] != "test_server" || chatos["tool"] != "run_sub_agent" {
		t.Fatalf("unexpected chatos envelope: %v", chatos)
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	resps := runLines(t, s, `{"jsonrpc":"2.0","id":4,"method":"bogus"}`)
	if len(resps) != 1 || resps[0].Error == nil || resps[0].Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resps)
	}
}
