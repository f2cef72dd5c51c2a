package router

import (
	"context"

	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/selector"
)

// GetSubAgent looks up a single agent by id.
func (r *Router) GetSubAgent(agentID string) (model.Agent, error) {
	agent, ok := r.catalog.GetAgent(agentID)
	if !ok {
		return model.Agent{}, model.NotFound("agent not found: " + agentID)
	}
	return agent, nil
}

// SuggestSubAgent picks the best-matching agent for a task, using an LLM
// assist when a model is configured, falling back to deterministic scoring.
func (r *Router) SuggestSubAgent(ctx context.Context, req selector.Request) selector.Result {
	agents := r.catalog.ListAgents()

	driver, _, err := r.activeDriver(ctx, r.defaults.AiTimeoutMs)
	if err != nil || driver == nil {
		return selector.Select(req, agents)
	}
	return selector.AssistedSelect(ctx, driver, req, agents)
}
