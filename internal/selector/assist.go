package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// Completer is the minimal LLM call the assisted selector needs; satisfied
// by internal/llmdriver.Driver without this package importing it directly.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type assistedPick struct {
	AgentID string   `json:"agent_id"`
	Skills  []string `json:"skills"`
	Reason  string   `json:"reason"`
}

// AssistedSelect sends a structured prompt enumerating candidate agents
// (best matches first) to completer and parses the first top-level JSON
// object from the reply. If the call fails, the reply can't be parsed, or
// names an unknown agent, it falls back to deterministic Select.
func AssistedSelect(ctx context.Context, completer Completer, req Request, agents []model.Agent) Result {
	fallback := Select(req, agents)
	if completer == nil || len(agents) == 0 {
		return fallback
	}

	ranked := RankByScore(req, agents)
	prompt := buildAssistPrompt(req, ranked)
	reply, err := completer.Complete(ctx, assistSystemPrompt, prompt)
	if err != nil {
		return fallback
	}

	pick, ok := extractJSONObject(reply)
	if !ok {
		return fallback
	}

	for _, a := range agents {
		if a.ID != pick.AgentID {
			continue
		}
		result := Result{
			Agent:  a,
			Reason: pick.Reason,
		}
		if result.Reason == "" {
			result.Reason = "Best available match"
		}
		if len(pick.Skills) > 0 {
			result.UsedSkills = pick.Skills
		} else {
			result.UsedSkills = append([]string(nil), a.Skills...)
		}
		if req.CommandID != "" {
			cmd, ok := lookupCommand(a, req.CommandID)
			if !ok {
				return fallback
			}
			result.Command = cmd
			result.HasCommand = true
		}
		return result
	}
	return fallback
}

const assistSystemPrompt = "You select the best sub-agent for a task. Reply with a single JSON object " +
	`{"agent_id": "...", "skills": ["..."], "reason": "..."} and nothing else.`

func buildAssistPrompt(req Request, agents []model.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Task)
	if req.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", req.Category)
	}
	if len(req.Skills) > 0 {
		fmt.Fprintf(&b, "Requested skills: %s\n", strings.Join(req.Skills, ", "))
	}
	if req.Query != "" {
		fmt.Fprintf(&b, "Query: %s\n", req.Query)
	}
	b.WriteString("Candidates:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- id=%s name=%s category=%s skills=%s description=%s\n",
			a.ID, a.Name, a.Category, strings.Join(a.Skills, ","), a.Description)
	}
	return b.String()
}

// extractJSONObject finds the first top-level JSON object in s and decodes
// it as an assistedPick.
func extractJSONObject(s string) (assistedPick, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return assistedPick{}, false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var pick assistedPick
				if err := json.Unmarshal([]byte(s[start:i+1]), &pick); err != nil {
					return assistedPick{}, false
				}
				if pick.AgentID == "" {
					return assistedPick{}, false
				}
				return pick, true
			}
		}
	}
	return assistedPick{}, false
}

func lookupCommand(a model.Agent, commandID string) (model.Command, bool) {
	for _, c := range a.Commands {
		if strings.EqualFold(c.ID, commandID) || strings.EqualFold(c.Name, commandID) {
			return c, true
		}
	}
	return model.Command{}, false
}
