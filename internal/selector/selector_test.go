package selector

import (
	"context"
	"strings"
	"testing"

	"github.com/leeoohoo/subagent-router/internal/model"
)

func TestSelectDeterministicScenario(t *testing.T) {
	agents := []model.Agent{
		{ID: "py", Category: "python", Skills: []string{"pandas"}},
		{ID: "go", Category: "go"},
	}
	result := Select(Request{Task: "clean data", Category: "python", Skills: []string{"pandas"}}, agents)
	if result.Agent.ID != "py" {
		t.Fatalf("expected agent py, got %q", result.Agent.ID)
	}
	if len(result.UsedSkills) != 1 || result.UsedSkills[0] != "pandas" {
		t.Errorf("expected used skills [pandas], got %v", result.UsedSkills)
	}
	if !strings.Contains(result.Reason, "category:python") {
		t.Errorf("reason missing category match: %q", result.Reason)
	}
	if !strings.Contains(result.Reason, "skills:pandas") {
		t.Errorf("reason missing skills match: %q", result.Reason)
	}
}

func TestSelectTieBreaksToFirstInput(t *testing.T) {
	agents := []model.Agent{
		{ID: "first"},
		{ID: "second"},
	}
	result := Select(Request{}, agents)
	if result.Agent.ID != "first" {
		t.Errorf("expected tie to favor first input agent, got %q", result.Agent.ID)
	}
	if result.Reason != "Best available match" {
		t.Errorf("expected default reason, got %q", result.Reason)
	}
}

func TestSelectCategoryMismatchDisqualifies(t *testing.T) {
	agents := []model.Agent{{ID: "only", Category: "go"}}
	result := Select(Request{Category: "python"}, agents)
	if result.Agent.ID != "" {
		t.Errorf("expected no match when category mismatches, got %+v", result)
	}
}

func TestSelectCommandIDDisqualifiesNonMatching(t *testing.T) {
	agents := []model.Agent{
		{ID: "a", Commands: []model.Command{{ID: "build"}}},
		{ID: "b", Commands: []model.Command{{ID: "run"}}},
	}
	result := Select(Request{CommandID: "run"}, agents)
	if result.Agent.ID != "b" {
		t.Fatalf("expected agent b with matching command, got %+v", result)
	}
	if !result.HasCommand || result.Command.ID != "run" {
		t.Errorf("expected resolved command 'run', got %+v", result.Command)
	}
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.reply, f.err
}

func TestAssistedSelectParsesJSONReply(t *testing.T) {
	agents := []model.Agent{{ID: "py", Category: "python"}, {ID: "go", Category: "go"}}
	completer := fakeCompleter{reply: `Sure thing: {"agent_id": "go", "skills": ["tooling"], "reason": "go fits best"} done.`}
	result := AssistedSelect(context.Background(), completer, Request{Task: "build a cli"}, agents)
	if result.Agent.ID != "go" {
		t.Fatalf("expected assisted pick 'go', got %q", result.Agent.ID)
	}
	if result.Reason != "go fits best" {
		t.Errorf("expected reason from reply, got %q", result.Reason)
	}
}

func TestAssistedSelectFallsBackOnUnknownAgent(t *testing.T) {
	agents := []model.Agent{{ID: "py", Category: "python", Skills: []string{"pandas"}}}
	completer := fakeCompleter{reply: `{"agent_id": "nonexistent"}`}
	result := AssistedSelect(context.Background(), completer, Request{Category: "python"}, agents)
	if result.Agent.ID != "py" {
		t.Fatalf("expected deterministic fallback, got %q", result.Agent.ID)
	}
}

func TestAssistedSelectFallsBackOnUnparseableReply(t *testing.T) {
	agents := []model.Agent{{ID: "py"}}
	completer := fakeCompleter{reply: "no json here"}
	result := AssistedSelect(context.Background(), completer, Request{}, agents)
	if result.Agent.ID != "py" {
		t.Fatalf("expected deterministic fallback, got %q", result.Agent.ID)
	}
}
