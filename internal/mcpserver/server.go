// Package mcpserver frames the router's six tools as a line-delimited
// JSON-RPC server over standard streams. Transport negotiation and schema
// validation beyond the tool input schemas stay out of scope; the only job
// here is decoding one JSON-RPC request per line and encoding one response
// per line.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/router"
	"github.com/leeoohoo/subagent-router/internal/selector"
)

var logger = slog.Default().With("component", "mcpserver")

// Server dispatches JSON-RPC requests against one Router.
type Server struct {
	name string
	r    *router.Router
}

// New builds a Server bound to r. name identifies this server in the
// chatos envelope of every result.
func New(name string, r *router.Router) *Server {
	return &Server{name: name, r: r}
}

// Serve reads one JSON-RPC request per line from in and writes one response
// per line to out, until in is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeResponse(out, jsonrpcResponse{JSONRPC: "2.0", Error: &jsonrpcError{Code: codeInvalidParams, Message: "invalid request: " + err.Error()}})
			continue
		}

		resp := s.dispatch(ctx, req)
		writeResponse(out, resp)
	}
	return scanner.Err()
}

func writeResponse(out io.Writer, resp jsonrpcResponse) {
	resp.JSONRPC = "2.0"
	raw, err := json.Marshal(resp)
	if err != nil {
		logger.Error("failed to marshal response", "error", err)
		return
	}
	raw = append(raw, '\n')
	if _, err := out.Write(raw); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req jsonrpcRequest) jsonrpcResponse {
	switch req.Method {
	case "initialize":
		return jsonrpcResponse{ID: req.ID, Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": s.name, "version": "1.0.0"},
		}}
	case "tools/list":
		return jsonrpcResponse{ID: req.ID, Result: listToolsResult{Tools: toolSchemas}}
	case "tools/call":
		return s.dispatchToolCall(ctx, req)
	default:
		return jsonrpcResponse{ID: req.ID, Error: &jsonrpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}}
	}
}

func (s *Server) dispatchToolCall(ctx context.Context, req jsonrpcRequest) jsonrpcResponse {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpcResponse{ID: req.ID, Error: &jsonrpcError{Code: codeInvalidParams, Message: "invalid tool call params: " + err.Error()}}
	}

	result, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		code, message := model.ToToolError(err)
		return jsonrpcResponse{ID: req.ID, Error: &jsonrpcError{Code: code, Message: message}}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return jsonrpcResponse{ID: req.ID, Error: &jsonrpcError{Code: codeInternal, Message: "marshal result: " + err.Error()}}
	}
	return jsonrpcResponse{ID: req.ID, Result: callToolResult{Content: []toolContent{{Type: "text", Text: string(raw)}}}}
}

func (s *Server) callTool(ctx context.Context, name string, arguments json.RawMessage) (map[string]any, error) {
	switch name {
	case "get_sub_agent":
		return s.getSubAgent(arguments)
	case "suggest_sub_agent":
		return s.suggestSubAgent(ctx, arguments)
	case "run_sub_agent":
		return s.runSubAgent(ctx, arguments)
	case "start_sub_agent_async":
		return s.startSubAgentAsync(ctx, arguments)
	case "get_sub_agent_status":
		return s.getSubAgentStatus(ctx, arguments)
	case "cancel_sub_agent_job":
		return s.cancelSubAgentJob(ctx, arguments)
	default:
		return nil, model.NotFound("unknown tool: " + name)
	}
}

type agentIDParams struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) getSubAgent(arguments json.RawMessage) (map[string]any, error) {
	var p agentIDParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	agent, err := s.r.GetSubAgent(p.AgentID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(agent)
	if err != nil {
		return nil, fmt.Errorf("marshal agent: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("remarshal agent: %w", err)
	}
	return router.WrapChatOS(out, "ok", s.name, "get_sub_agent"), nil
}

type suggestParams struct {
	Task      string   `json:"task"`
	Category  string   `json:"category"`
	Skills    []string `json:"skills"`
	Query     string   `json:"query"`
	CommandID string   `json:"command_id"`
}

func (s *Server) suggestSubAgent(ctx context.Context, arguments json.RawMessage) (map[string]any, error) {
	var p suggestParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	result := s.r.SuggestSubAgent(ctx, selector.Request{
		Task:      p.Task,
		Category:  p.Category,
		Skills:    p.Skills,
		Query:     p.Query,
		CommandID: p.CommandID,
	})

	var agentID any
	if result.Agent.ID != "" {
		agentID = result.Agent.ID
	}
	out := map[string]any{
		"agent_id": agentID,
		"skills":   result.UsedSkills,
		"reason":   result.Reason,
	}
	return router.WrapChatOS(out, "ok", s.name, "suggest_sub_agent"), nil
}

type runParams struct {
	AgentID   string   `json:"agent_id"`
	CommandID string   `json:"command_id"`
	Task      string   `json:"task"`
	Category  string   `json:"category"`
	Skills    []string `json:"skills"`
	Query     string   `json:"query"`
}

func (p runParams) toRouterParams() router.RunParams {
	return router.RunParams{
		AgentID:   p.AgentID,
		CommandID: p.CommandID,
		Task:      p.Task,
		Category:  p.Category,
		Skills:    p.Skills,
		Query:     p.Query,
	}
}

func (s *Server) runSubAgent(ctx context.Context, arguments json.RawMessage) (map[string]any, error) {
	var p runParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	payload, err := s.r.RunSubAgent(ctx, p.toRouterParams())
	if err != nil {
		return nil, err
	}
	return payload.ToMap(s.name, "run_sub_agent"), nil
}

func (s *Server) startSubAgentAsync(ctx context.Context, arguments json.RawMessage) (map[string]any, error) {
	var p runParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	job, err := s.r.StartSubAgentAsync(ctx, p.toRouterParams())
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"job_id": job.ID,
		"status": string(job.Status),
	}
	return router.WrapChatOS(out, "ok", s.name, "start_sub_agent_async"), nil
}

type jobIDParams struct {
	JobID string `json:"job_id"`
}

func (s *Server) getSubAgentStatus(ctx context.Context, arguments json.RawMessage) (map[string]any, error) {
	var p jobIDParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	job, err := s.r.GetSubAgentStatus(ctx, p.JobID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"task":       job.Task,
		"agent_id":   job.AgentID,
		"command_id": job.CommandID,
		"error":      job.Error,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
		"result":     decodeResult(job.ResultJSON),
	}
	return router.WrapChatOS(out, "ok", s.name, "get_sub_agent_status"), nil
}

func decodeResult(resultJSON string) any {
	if resultJSON == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(resultJSON), &decoded); err != nil {
		return resultJSON
	}
	return decoded
}

func (s *Server) cancelSubAgentJob(ctx context.Context, arguments json.RawMessage) (map[string]any, error) {
	var p jobIDParams
	if err := json.Unmarshal(arguments, &p); err != nil {
		return nil, model.NewRouterError(model.KindBadInput, "invalid arguments", err)
	}
	cancelled, status, err := s.r.CancelSubAgentJob(ctx, p.JobID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"cancelled": cancelled,
		"status":    string(status),
	}
	return router.WrapChatOS(out, "ok", s.name, "cancel_sub_agent_job"), nil
}
