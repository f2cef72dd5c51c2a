package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leeoohoo/subagent-router/internal/model"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryOverridesMarketplaceOnCollision(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "marketplace.json")
	pluginDir := filepath.Join(dir, "py-plugin")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "agent.md"), []byte("# Marketplace Python\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeJSON(t, manifestPath, map[string]any{
		"plugins": []any{
			map[string]any{
				"name":   "py-plugin",
				"source": "./py-plugin",
				"agents": []any{
					map[string]any{"id": "py", "name": "Marketplace Python", "path": "agent.md", "category": "python"},
				},
			},
		},
	})

	registryPath := filepath.Join(dir, "subagents.json")
	writeJSON(t, registryPath, registryDoc{
		Agents: []model.Agent{
			{ID: "py", Name: "Registry Python", Category: "python"},
			{ID: "go", Name: "Registry Go", Category: "go"},
		},
	})

	cat, err := New(manifestPath, "", registryPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	agent, ok := cat.GetAgent("py")
	if !ok || agent.Name != "Registry Python" {
		t.Fatalf("expected registry agent to win, got %+v ok=%v", agent, ok)
	}

	agents := cat.ListAgents()
	if len(agents) != 2 {
		t.Fatalf("expected 2 unique agents, got %d", len(agents))
	}
}

func TestResolveSkillsDropsUnknownPreservesOrder(t *testing.T) {
	cat := &Catalog{
		skills: map[string]model.Skill{
			"a": {ID: "a", Name: "A"},
			"b": {ID: "b", Name: "B"},
		},
	}
	resolved := cat.ResolveSkills([]string{"b", "missing", "a"})
	if len(resolved) != 2 || resolved[0].ID != "b" || resolved[1].ID != "a" {
		t.Errorf("unexpected resolve order: %+v", resolved)
	}
}

func TestResolveCommandPrefersDefaultThenFirst(t *testing.T) {
	agent := model.Agent{
		DefaultCommand: "run",
		Commands: []model.Command{
			{ID: "build", Name: "Build"},
			{ID: "run", Name: "Run"},
		},
	}
	cmd, ok := ResolveCommand(agent, "")
	if !ok || cmd.ID != "run" {
		t.Fatalf("expected default command 'run', got %+v ok=%v", cmd, ok)
	}

	cmd, ok = ResolveCommand(agent, "Build")
	if !ok || cmd.ID != "build" {
		t.Fatalf("expected case-insensitive name match, got %+v ok=%v", cmd, ok)
	}

	noDefault := model.Agent{Commands: []model.Command{{ID: "only"}}}
	cmd, ok = ResolveCommand(noDefault, "")
	if !ok || cmd.ID != "only" {
		t.Fatalf("expected first command fallback, got %+v ok=%v", cmd, ok)
	}

	empty := model.Agent{}
	if _, ok := ResolveCommand(empty, ""); ok {
		t.Error("expected no command for agent without commands")
	}
}

func TestReadContentMemoizesAndHandlesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.md")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	cat := &Catalog{contentCache: map[string]string{}}
	if got := cat.ReadContent(path); got != "hello" {
		t.Errorf("ReadContent() = %q", got)
	}
	if got := cat.ReadContent(filepath.Join(dir, "missing.md")); got != "" {
		t.Errorf("ReadContent(missing) = %q, want empty", got)
	}
}
