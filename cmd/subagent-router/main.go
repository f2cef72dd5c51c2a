// Command subagent-router runs the Sub-Agent Router as a line-delimited
// JSON-RPC tool server over stdin/stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/leeoohoo/subagent-router/internal/catalog"
	"github.com/leeoohoo/subagent-router/internal/configstore"
	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/jobstore"
	"github.com/leeoohoo/subagent-router/internal/mcpserver"
	"github.com/leeoohoo/subagent-router/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("subagent-router exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("subagent-router", flag.ContinueOnError)

	name := fs.String("name", "sub_agent_router", "server name, used in the chatos envelope and the state directory")
	stateRoot := fs.String("state-root", envOr("MCP_STATE_ROOT", envOr("SUBAGENT_STATE_ROOT", "")), "base state directory (overrides MCP_STATE_ROOT/SUBAGENT_STATE_ROOT)")
	marketplacePath := fs.String("marketplace-path", os.Getenv("SUBAGENT_MARKETPLACE_PATH"), "marketplace manifest path")
	pluginsRoot := fs.String("plugins-root", os.Getenv("SUBAGENT_PLUGINS_ROOT"), "plugins root directory")
	commandTimeoutMs := fs.Int64("timeout-ms", envInt64("SUBAGENT_TIMEOUT_MS", 120_000), "child-process timeout in milliseconds")
	commandMaxOutputBytes := fs.Int64("max-output-bytes", envInt64("SUBAGENT_MAX_OUTPUT_BYTES", 1<<20), "child-process output cap in bytes")
	aiTimeoutMs := fs.Int64("llm-timeout-ms", envInt64("SUBAGENT_LLM_TIMEOUT_MS", 60_000), "LLM request timeout in milliseconds")
	aiMaxOutputBytes := fs.Int64("llm-max-output-bytes", envInt64("SUBAGENT_LLM_MAX_OUTPUT_BYTES", 1<<20), "LLM response output cap in bytes")
	aiToolMaxTurns := fs.Int("llm-tool-max-turns", 100, "maximum tool-call turns per LLM run")
	aiMaxRetries := fs.Int("llm-max-retries", 3, "maximum LLM request attempts")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: subagent-router [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	root := *stateRoot
	if root == "" {
		root = ids.StateRoot()
	}
	serverDir := filepath.Join(root, *name)
	if err := os.MkdirAll(serverDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	registryPath := filepath.Join(serverDir, "subagents.json")
	manifestPath := *marketplacePath
	if manifestPath == "" {
		manifestPath = filepath.Join(serverDir, "marketplace.json")
	}
	plugins := *pluginsRoot
	if plugins == "" {
		plugins = filepath.Join(serverDir, "plugins")
	}

	cat, err := catalog.New(manifestPath, plugins, registryPath)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	cfgStore, err := configstore.Open(filepath.Join(serverDir, *name+".db.sqlite"))
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer cfgStore.Close()

	jobStore, err := jobstore.Open(filepath.Join(serverDir, *name+".jobs.sqlite"))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobStore.Close()

	sessionID, runID := ids.SessionRunIDs()

	defaults := router.Defaults{
		CommandTimeoutMs:      *commandTimeoutMs,
		CommandMaxOutputBytes: *commandMaxOutputBytes,
		AiTimeoutMs:           *aiTimeoutMs,
		AiMaxOutputBytes:      *aiMaxOutputBytes,
		AiToolMaxTurns:        *aiToolMaxTurns,
		AiMaxRetries:          *aiMaxRetries,
	}
	r := router.New(cat, cfgStore, jobStore, defaults, sessionID, runID)
	server := mcpserver.New(*name, r)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("subagent-router starting", "name", *name, "state_dir", serverDir, "session_id", sessionID, "run_id", runID)
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var parsed int64
	if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}
