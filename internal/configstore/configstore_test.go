package configstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leeoohoo/subagent-router/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com":      "https://api.example.com/v1",
		"https://api.example.com/":     "https://api.example.com/v1",
		"https://api.example.com/v1":   "https://api.example.com/v1",
		"https://api.example.com/v1/":  "https://api.example.com/v1",
		"":                             "",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestModelConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := model.ModelConfig{Name: "primary", APIKey: "k", BaseURL: "https://x.test", Model: "gpt-x"}
	saved, err := saveAndGet(ctx, s, m)
	if err != nil {
		t.Fatal(err)
	}
	if saved.BaseURL != "https://x.test/v1" {
		t.Errorf("expected normalized base url, got %q", saved.BaseURL)
	}

	if err := s.SetActiveModelID(ctx, saved.ID); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetActiveModelID(ctx)
	if err != nil || got != saved.ID {
		t.Fatalf("GetActiveModelID() = (%q, %v), want %q", got, err, saved.ID)
	}
}

func saveAndGet(ctx context.Context, s *Store, m model.ModelConfig) (model.ModelConfig, error) {
	if err := s.SaveModel(ctx, m); err != nil {
		return model.ModelConfig{}, err
	}
	models, err := s.ListModels(ctx)
	if err != nil {
		return model.ModelConfig{}, err
	}
	for _, cand := range models {
		if cand.Name == m.Name {
			return cand, nil
		}
	}
	return model.ModelConfig{}, nil
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cfg := model.RuntimeConfig{AiTimeoutMs: 5000, AiToolMaxTurns: 20}
	if err := s.SetRuntimeConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRuntimeConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != cfg {
		t.Errorf("GetRuntimeConfig() = %+v, want %+v", got, cfg)
	}
}

func TestMcpServerCRUDAndValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.SaveMcpServer(ctx, model.McpServerConfig{Name: "Task Manager", Transport: model.TransportStdio})
	if err == nil {
		t.Fatal("expected validation error for missing command")
	}

	saved, err := s.SaveMcpServer(ctx, model.McpServerConfig{
		Name:      "Task Manager",
		Transport: model.TransportStdio,
		Command:   "task-mgr",
		Args:      []string{"--serve"},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("SaveMcpServer: %v", err)
	}

	got, err := s.GetMcpServer(ctx, saved.ID)
	if err != nil || got == nil {
		t.Fatalf("GetMcpServer: %v", err)
	}
	if got.Command != "task-mgr" || len(got.Args) != 1 || got.Args[0] != "--serve" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	prefixes, err := s.GetEffectiveAllowPrefixes(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefixes) != 1 || prefixes[0] != "mcp_task_manager_" {
		t.Errorf("GetEffectiveAllowPrefixes() = %v", prefixes)
	}

	manual := []string{"custom_"}
	prefixes, err = s.GetEffectiveAllowPrefixes(ctx, manual)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefixes) != 1 || prefixes[0] != "custom_" {
		t.Errorf("manual allow-list should win, got %v", prefixes)
	}

	if err := s.DeleteMcpServer(ctx, saved.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMcpServer(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected mcp server to be deleted")
	}
}

func TestMarketplaceMergeFirstOccurrenceOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "marketplace.json")

	docA := `{"plugins":[{"source":"./a","name":"A"},{"source":"./b","name":"B"}]}`
	docB := `{"plugins":[{"source":"./b","name":"B-dup"},{"source":"./c","name":"C"}]}`

	if _, err := s.SaveMarketplace(ctx, model.MarketplaceRecord{Name: "one", JSON: docA, Active: true}, manifestPath); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMarketplace(ctx, model.MarketplaceRecord{Name: "two", JSON: docB, Active: true}, manifestPath); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read effective manifest: %v", err)
	}
	var effective struct {
		Plugins []struct {
			Source string `json:"source"`
			Name   string `json:"name"`
		} `json:"plugins"`
	}
	if err := json.Unmarshal(raw, &effective); err != nil {
		t.Fatalf("decode effective manifest: %v", err)
	}
	if len(effective.Plugins) != 3 {
		t.Fatalf("expected 3 merged plugins, got %d: %+v", len(effective.Plugins), effective.Plugins)
	}
	if effective.Plugins[1].Name != "B" {
		t.Errorf("expected first occurrence of ./b (name B) to win, got %q", effective.Plugins[1].Name)
	}
}
