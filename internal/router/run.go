package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/llmdriver"
	"github.com/leeoohoo/subagent-router/internal/mcpbridge"
	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/procrunner"
	"github.com/leeoohoo/subagent-router/internal/toolloop"
)

// RunParams is the caller-supplied shape of run_sub_agent/start_sub_agent_async.
type RunParams struct {
	AgentID   string
	CommandID string
	Task      string
	Category  string
	Skills    []string
	Query     string
	RunID     string
}

// RunSubAgent resolves agent+command and runs synchronously.
func (r *Router) RunSubAgent(ctx context.Context, params RunParams) (RunPayload, error) {
	agent, cmd, err := r.resolveAgentCommand(params.AgentID, params.CommandID)
	if err != nil {
		return RunPayload{}, err
	}
	if params.RunID == "" {
		params.RunID = r.runID
	}
	rt := r.effectiveRuntime(ctx)
	return r.runCore(ctx, agent, cmd, params, rt, nil), nil
}

func (r *Router) resolveAgentCommand(agentID, commandID string) (model.Agent, model.Command, error) {
	agent, ok := r.catalog.GetAgent(agentID)
	if !ok {
		return model.Agent{}, model.Command{}, model.NotFound("agent not found: " + agentID)
	}
	cmd, ok := catalog.ResolveCommand(agent, commandID)
	if !ok {
		return model.Agent{}, model.Command{}, model.NotFound("command not found for agent: " + agentID)
	}
	return agent, cmd, nil
}

// runCore dispatches to the process or LLM backend and always returns a
// populated payload rather than an error, per spec (subprocess/LLM failures
// are recorded in the payload, not surfaced as tool errors).
func (r *Router) runCore(ctx context.Context, agent model.Agent, cmd model.Command, params RunParams, rt Defaults, sink llmdriver.EventSink) RunPayload {
	if cmd.IsProcess() {
		return r.runProcess(ctx, cmd, params, rt)
	}
	return r.runLLM(ctx, agent, cmd, params, rt, sink)
}

func (r *Router) runProcess(ctx context.Context, cmd model.Command, params RunParams, rt Defaults) RunPayload {
	spec := procrunner.Spec{Exec: cmd.Exec, Cwd: cmd.Cwd, Env: cmd.Env}

	activeModel, err := r.activeModelConfig(ctx)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}
	mcpServers, allowPrefixes, err := r.mcpContext(ctx)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}

	rc := procrunner.RunContext{
		Task:          params.Task,
		SessionID:     r.sessionID,
		RunID:         params.RunID,
		Skills:        params.Skills,
		Category:      params.Category,
		Query:         params.Query,
		Model:         activeModel.Model,
		CallerModel:   ids.CallerModel(),
		AllowPrefixes: allowPrefixes,
		McpServers:    mcpServers,
	}
	opts := procrunner.Options{TimeoutMs: rt.CommandTimeoutMs, MaxOutputBytes: rt.CommandMaxOutputBytes}

	result, err := procrunner.Run(ctx, spec, rc, opts)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}

	status := "ok"
	if !result.Success() {
		status = "error"
	}
	return RunPayload{
		Status:          status,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		ExitCode:        result.ExitCode,
		Signal:          result.Signal,
		TimedOut:        result.TimedOut,
		StdoutTruncated: result.StdoutTruncated,
		StderrTruncated: result.StderrTruncated,
		DurationMs:      result.DurationMs,
		Error:           result.Error,
	}
}

func (r *Router) runLLM(ctx context.Context, agent model.Agent, cmd model.Command, params RunParams, rt Defaults, sink llmdriver.EventSink) RunPayload {
	started := time.Now()

	driver, _, err := r.activeDriver(ctx, rt.AiTimeoutMs)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}
	if driver == nil {
		return RunPayload{Status: "error", Error: "no active model configured"}
	}

	servers, err := r.configStore.ListMcpServers(ctx)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}
	allowPrefixes, err := r.configStore.GetEffectiveAllowPrefixes(ctx, nil)
	if err != nil {
		return RunPayload{Status: "error", Error: err.Error()}
	}

	bridge := mcpbridge.Connect(ctx, servers, allowPrefixes)
	defer bridge.Close()

	systemPrompt := r.assembleSystemPrompt(ctx, agent, cmd, params.Skills, allowPrefixes)
	tools := toLLMTools(bridge.Tools())

	invoke := func(ctx context.Context, toolName string, argumentsJSON string) (string, error) {
		result := bridge.CallTool(ctx, toolName, json.RawMessage(argumentsJSON))
		raw, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	opts := toolloop.Options{
		MaxTurns: rt.AiToolMaxTurns,
		TurnLimits: llmdriver.Options{
			TimeoutMs:      rt.AiTimeoutMs,
			MaxOutputBytes: rt.AiMaxOutputBytes,
			MaxRetries:     rt.AiMaxRetries,
		},
	}

	result, err := toolloop.Run(ctx, driver, systemPrompt, params.Task, tools, invoke, opts, sink)
	duration := time.Since(started).Milliseconds()

	if err != nil {
		return RunPayload{
			Status:     "error",
			Error:      err.Error(),
			DurationMs: duration,
		}
	}

	return RunPayload{
		Status:          "ok",
		Stdout:          result.Text,
		StdoutTruncated: result.Truncated,
		DurationMs:      duration,
	}
}

func toLLMTools(decls []mcpbridge.ToolDecl) []llmdriver.ToolDecl {
	out := make([]llmdriver.ToolDecl, len(decls))
	for i, d := range decls {
		out[i] = llmdriver.ToolDecl{Name: d.Name, Description: d.Description, Schema: d.Schema}
	}
	return out
}
