package router

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/configstore"
	"github.com/leeoohoo/subagent-router/internal/jobstore"
	"github.com/leeoohoo/subagent-router/internal/model"
	"github.com/leeoohoo/subagent-router/internal/selector"
)

func newTestRouter(t *testing.T, agents []model.Agent) *Router {
	t.Helper()

	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	raw, err := json.Marshal(struct {
		Agents []model.Agent `json:"agents"`
	}{Agents: agents})
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

	defaults := Defaults{
		CommandTimeoutMs:      5000,
		CommandMaxOutputBytes: 1 << 16,
		AiTimeoutMs:           5000,
		AiMaxOutputBytes:      1 << 16,
		AiToolMaxTurns:        10,
		AiMaxRetries:          1,
	}
	return New(cat, cfg, jobs, defaults, "session-1", "run-1")
}

func TestSuggestSubAgentDeterministicNoActiveModel(t *testing.T) {
	agents := []model.Agent{
		{ID: "writer", Name: "Writer", Description: "writes prose and documentation"},
		{ID: "coder", Name: "Coder", Description: "writes and debugs go code"},
	}
	r := newTestRouter(t, agents)

	result := r.SuggestSubAgent(context.Background(), selector.Request{Task: "debug this go function"})
	if result.Agent.ID != "coder" {
		t.Fatalf("expected coder to be selected, got %q (reason=%q)", result.Agent.ID, result.Reason)
	}
}

func TestGetSubAgentNotFound(t *testing.T) {
	r := newTestRouter(t, nil)
	if _, err := r.GetSubAgent("missing"); err == nil {
		t.Fatal("expected error for missing agent")
	}
}

func TestRunSubAgentProcessBackendOK(t *testing.T) {
	agent := model.Agent{
		ID:   "echoer",
		Name: "Echoer",
		Commands: []model.Command{
			{ID: "run", Exec: []string{"sh", "-c", "echo hello"}},
		},
		DefaultCommand: "run",
	}
	r := newTestRouter(t, []model.Agent{agent})

	payload, err := r.RunSubAgent(context.Background(), RunParams{AgentID: "echoer", Task: "say hi"})
	if err != nil {
		t.Fatalf("RunSubAgent: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q (error=%q)", payload.Status, payload.Error)
	}
}

func TestRunSubAgentProcessBackendCarriesSessionAndRunContext(t *testing.T) {
	agent := model.Agent{
		ID:   "introspector",
		Name: "Introspector",
		Commands: []model.Command{
			{ID: "run", Exec: []string{"sh", "-c", "echo $SUBAGENT_SESSION_ID $SUBAGENT_RUN_ID"}},
		},
		DefaultCommand: "run",
	}
	r := newTestRouter(t, []model.Agent{agent})

	payload, err := r.RunSubAgent(context.Background(), RunParams{AgentID: "introspector", Task: "say hi"})
	if err != nil {
		t.Fatalf("RunSubAgent: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q (error=%q)", payload.Status, payload.Error)
	}
	if got := strings.TrimSpace(payload.Stdout); got != "session-1 run-1" {
		t.Errorf("expected process env to carry session/run ids, got %q", got)
	}
}

func TestStartSubAgentAsyncThenCancelIsImmediateAndSticky(t *testing.T) {
	agent := model.Agent{
		ID:   "sleeper",
		Name: "Sleeper",
		Commands: []model.Command{
			{ID: "run", Exec: []string{"sh", "-c", "sleep 10"}},
		},
		DefaultCommand: "run",
	}
	r := newTestRouter(t, []model.Agent{agent})

	ctx := context.Background()
	job, err := r.StartSubAgentAsync(ctx, RunParams{AgentID: "sleeper", Task: "nap"})
	if err != nil {
		t.Fatalf("StartSubAgentAsync: %v", err)
	}
	if job.Status != model.JobRunning {
		t.Fatalf("expected running status right after start, got %q", job.Status)
	}

	// give the goroutine a moment to actually spawn the process
	time.Sleep(50 * time.Millisecond)

	cancelled, status, err := r.CancelSubAgentJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelSubAgentJob: %v", err)
	}
	if !cancelled || status != model.JobCancelled {
		t.Fatalf("expected immediate cancellation, got cancelled=%v status=%q", cancelled, status)
	}

	current, err := r.GetSubAgentStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetSubAgentStatus: %v", err)
	}
	if current.Status != model.JobCancelled {
		t.Fatalf("expected status to remain cancelled, got %q", current.Status)
	}

	// cancelling again is idempotent and reports the already-terminal state
	cancelledAgain, statusAgain, err := r.CancelSubAgentJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelSubAgentJob (again): %v", err)
	}
	if cancelledAgain || statusAgain != model.JobCancelled {
		t.Fatalf("expected no-op second cancel, got cancelled=%v status=%q", cancelledAgain, statusAgain)
	}

	// once the aborted process actually exits, its finish is ignored and the
	// status must stay cancelled rather than flip to done/error.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		events, err := r.jobStore.ListEvents(ctx, job.ID)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		for _, e := range events {
			if e.Type == model.EventFinishIgnored {
				final, err := r.GetSubAgentStatus(ctx, job.ID)
				if err != nil {
					t.Fatalf("GetSubAgentStatus (final): %v", err)
				}
				if final.Status != model.JobCancelled {
					t.Fatalf("expected final status cancelled, got %q", final.Status)
				}
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for finish_ignored event")
}

func TestGetSubAgentStatusRejectsForeignSession(t *testing.T) {
	agent := model.Agent{
		ID:   "echoer",
		Name: "Echoer",
		Commands: []model.Command{
			{ID: "run", Exec: []string{"sh", "-c", "echo hi"}},
		},
		DefaultCommand: "run",
	}
	r := newTestRouter(t, []model.Agent{agent})

	ctx := context.Background()
	job, err := r.StartSubAgentAsync(ctx, RunParams{AgentID: "echoer", Task: "hi"})
	if err != nil {
		t.Fatalf("StartSubAgentAsync: %v", err)
	}

	other := New(r.catalog, r.configStore, r.jobStore, r.defaults, "other-session", "other-run")
	if _, err := other.GetSubAgentStatus(ctx, job.ID); err == nil {
		t.Fatal("expected foreign-session error")
	}
}
