// Package router implements the six sub-agent-router MCP tools: resolving
// agents and commands, running them synchronously or as tracked background
// jobs, and reporting/cancelling those jobs.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/configstore"
	"github.com/leeoohoo/subagent-router/internal/jobstore"
	"github.com/leeoohoo/subagent-router/internal/llmdriver"
	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/procrunner"
)

var logger = slog.Default().With("component", "router")

const guardrailSentence = "Do not call any sub-agent, suggestion, or job tool recursively from within this run; complete the task directly."

// Defaults are the CLI/env-resolved fallbacks used whenever the config
// store has no override for a given run.
type Defaults struct {
	CommandTimeoutMs      int64
	CommandMaxOutputBytes int64
	AiTimeoutMs           int64
	AiMaxOutputBytes      int64
	AiToolMaxTurns        int
	AiMaxRetries          int
}

// inflightHandle lets CancelSubAgentJob reach a running job's cancellation.
type inflightHandle struct {
	cancel context.CancelFunc
}

// Router wires the catalog, config store, and job store together behind
// the six MCP tools.
type Router struct {
	catalog     *catalog.Catalog
	configStore *configstore.Store
	jobStore    *jobstore.Store
	defaults    Defaults
	sessionID   string
	runID       string

	mu        sync.Mutex
	inflight  map[string]*inflightHandle
	cancelled map[string]bool
}

// New builds a Router bound to one session and process-wide run id. Jobs and
// sync runs that don't supply their own run id inherit runID, per the
// session/run identifier contract.
func New(cat *catalog.Catalog, cfg *configstore.Store, jobs *jobstore.Store, defaults Defaults, sessionID, runID string) *Router {
	return &Router{
		catalog:     cat,
		configStore: cfg,
		jobStore:    jobs,
		defaults:    defaults,
		sessionID:   sessionID,
		runID:       runID,
		inflight:    map[string]*inflightHandle{},
		cancelled:   map[string]bool{},
	}
}

func (r *Router) effectiveRuntime(ctx context.Context) Defaults {
	stored, err := r.configStore.GetRuntimeConfig(ctx)
	if err != nil {
		logger.Warn("failed to load runtime config overrides, using defaults", "error", err)
		return r.defaults
	}
	eff := r.defaults
	if stored.CommandTimeoutMs > 0 {
		eff.CommandTimeoutMs = stored.CommandTimeoutMs
	}
	if stored.CommandMaxOutputBytes > 0 {
		eff.CommandMaxOutputBytes = stored.CommandMaxOutputBytes
	}
	if stored.AiTimeoutMs > 0 {
		eff.AiTimeoutMs = stored.AiTimeoutMs
	}
	if stored.AiMaxOutputBytes > 0 {
		eff.AiMaxOutputBytes = stored.AiMaxOutputBytes
	}
	if stored.AiToolMaxTurns > 0 {
		eff.AiToolMaxTurns = stored.AiToolMaxTurns
	}
	if stored.AiMaxRetries > 0 {
		eff.AiMaxRetries = stored.AiMaxRetries
	}
	return eff
}

// activeModelConfig resolves the currently configured active model, or the
// zero value if none is configured.
func (r *Router) activeModelConfig(ctx context.Context) (model.ModelConfig, error) {
	activeID, err := r.configStore.GetActiveModelID(ctx)
	if err != nil {
		return model.ModelConfig{}, fmt.Errorf("load active model id: %w", err)
	}
	if activeID == "" {
		return model.ModelConfig{}, nil
	}
	models, err := r.configStore.ListModels(ctx)
	if err != nil {
		return model.ModelConfig{}, fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if m.ID == activeID {
			return m, nil
		}
	}
	return model.ModelConfig{}, nil
}

// activeDriver builds an llmdriver.Driver for the currently configured
// active model, or nil if none is configured.
func (r *Router) activeDriver(ctx context.Context, timeoutMs int64) (*llmdriver.Driver, model.ModelConfig, error) {
	m, err := r.activeModelConfig(ctx)
	if err != nil || m.ID == "" {
		return nil, m, err
	}
	return llmdriver.New(m, timeoutMs), m, nil
}

// mcpContext gathers the MCP server summaries and effective allow-prefixes
// handed to the process run backend, per spec §4.5/§4.8.
func (r *Router) mcpContext(ctx context.Context) ([]procrunner.McpServerSummary, []string, error) {
	servers, err := r.configStore.ListMcpServers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list mcp servers: %w", err)
	}
	allowPrefixes, err := r.configStore.GetEffectiveAllowPrefixes(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load effective allow prefixes: %w", err)
	}
	summaries := make([]procrunner.McpServerSummary, 0, len(servers))
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		summaries = append(summaries, procrunner.McpServerSummary{Name: s.Name, Transport: string(s.Transport)})
	}
	return summaries, allowPrefixes, nil
}

// assembleSystemPrompt concatenates the agent's system prompt, the
// command's instructions, resolved skill contents, the effective
// allow-prefix list, and the fixed anti-recursion guardrail.
func (r *Router) assembleSystemPrompt(ctx context.Context, agent model.Agent, cmd model.Command, requestedSkills []string, allowPrefixes []string) string {
	var parts []string

	if agent.SystemPromptPath != "" {
		if content := r.catalog.ReadContent(agent.SystemPromptPath); content != "" {
			parts = append(parts, content)
		}
	}
	if cmd.InstructionsPath != "" {
		if content := r.catalog.ReadContent(cmd.InstructionsPath); content != "" {
			parts = append(parts, content)
		}
	}

	skillIDs := requestedSkills
	if len(skillIDs) == 0 {
		skillIDs = agent.DefaultSkills
	}
	for _, skill := range r.catalog.ResolveSkills(skillIDs) {
		if content := r.catalog.ReadContent(skill.Path); content != "" {
			parts = append(parts, content)
		}
	}

	if len(allowPrefixes) > 0 {
		parts = append(parts, "Available MCP tool prefixes: "+strings.Join(allowPrefixes, ", "))
	}

	parts = append(parts, guardrailSentence)
	return strings.Join(parts, "\n\n")
}
