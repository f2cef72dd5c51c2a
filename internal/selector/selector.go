// Package selector picks the best-matching agent for a task, either by
// deterministic scoring or, optionally, with an LLM assist.
package selector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/model"
)

// Request is the input to Select.
type Request struct {
	Task      string
	Category  string
	Skills    []string
	Query     string
	CommandID string
}

// Result is the outcome of a selection.
type Result struct {
	Agent      model.Agent
	Command    model.Command
	HasCommand bool
	UsedSkills []string
	Reason     string
	Score      int
}

var tokenSplit = regexp.MustCompile(`[\s,;|/]+`)

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	fields := tokenSplit.Split(strings.ToLower(s), -1)
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// agentTokenSet builds the bag of words a query/task token is matched
// against: name, description, category, skills, and every command's
// id/name/description.
func agentTokenSet(a model.Agent) map[string]bool {
	set := map[string]bool{}
	add := func(s string) {
		for _, t := range tokenize(s) {
			set[t] = true
		}
	}
	add(a.Name)
	add(a.Description)
	add(a.Category)
	for _, s := range a.Skills {
		add(s)
	}
	for _, c := range a.Commands {
		add(c.ID)
		add(c.Name)
		add(c.Description)
	}
	return set
}

// Select deterministically scores every agent against req and returns the
// highest scorer; ties go to the first agent in input order.
func Select(req Request, agents []model.Agent) Result {
	taskTokens := tokenize(req.Task)
	queryTokens := tokenize(req.Query)

	type scored struct {
		agent   model.Agent
		score   int
		reasons []string
		command model.Command
		hasCmd  bool
		ok      bool
	}

	best := scored{score: -1}
	for _, a := range agents {
		sc := scored{agent: a}

		if req.Category != "" && a.Category != "" && !strings.EqualFold(req.Category, a.Category) {
			continue // disqualified
		}

		if req.CommandID != "" {
			cmd, ok := catalog.ResolveCommand(a, req.CommandID)
			if !ok {
				continue // disqualified: no matching command
			}
			sc.command = cmd
			sc.hasCmd = true
			sc.score += 5
			sc.reasons = append(sc.reasons, "command:"+cmd.ID)
		}

		if req.Category != "" && strings.EqualFold(req.Category, a.Category) {
			sc.score += 4
			sc.reasons = append(sc.reasons, "category:"+a.Category)
		}

		var matchedSkills []string
		for _, wantSkill := range req.Skills {
			for _, have := range a.Skills {
				if strings.EqualFold(wantSkill, have) {
					sc.score += 3
					matchedSkills = append(matchedSkills, have)
					break
				}
			}
		}
		if len(matchedSkills) > 0 {
			sc.reasons = append(sc.reasons, "skills:"+strings.Join(matchedSkills, ","))
		}

		tokens := agentTokenSet(a)
		var queryHits, taskHits []string
		for _, t := range queryTokens {
			if tokens[t] {
				sc.score += 2
				queryHits = append(queryHits, t)
			}
		}
		if len(queryHits) > 0 {
			sc.reasons = append(sc.reasons, "query:"+strings.Join(queryHits, ","))
		}
		for _, t := range taskTokens {
			if tokens[t] {
				sc.score += 1
				taskHits = append(taskHits, t)
			}
		}
		if len(taskHits) > 0 {
			sc.reasons = append(sc.reasons, "task:"+strings.Join(taskHits, ","))
		}

		sc.ok = true
		if sc.score > best.score {
			best = sc
		}
	}

	if !best.ok {
		return Result{}
	}

	reason := strings.Join(best.reasons, "|")
	if reason == "" {
		reason = "Best available match"
	}

	usedSkills := req.Skills
	if len(usedSkills) == 0 {
		usedSkills = append([]string(nil), best.agent.Skills...)
	}

	return Result{
		Agent:      best.agent,
		Command:    best.command,
		HasCommand: best.hasCmd,
		UsedSkills: usedSkills,
		Reason:     reason,
		Score:      best.score,
	}
}

// RankByScore returns agents sorted by the deterministic score they'd
// receive against req, highest first, ties preserving input order. Used
// to present an LLM-assist candidate list with the best matches first.
func RankByScore(req Request, agents []model.Agent) []model.Agent {
	type rankEntry struct {
		agent model.Agent
		index int
		score int
	}
	entries := make([]rankEntry, len(agents))
	for i, a := range agents {
		r := Select(req, []model.Agent{a})
		entries[i] = rankEntry{agent: a, index: i, score: r.Score}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	out := make([]model.Agent, len(entries))
	for i, e := range entries {
		out[i] = e.agent
	}
	return out
}
