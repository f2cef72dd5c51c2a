// Package ids generates identifiers, normalizes names, and resolves the
// on-disk state directory the router persists into.
package ids

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// New mints a fresh random identifier, used for jobs, events, sessions, and runs.
func New() string {
	return uuid.NewString()
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9_-]+`)
var slugCollapse = regexp.MustCompile(`-{2,}`)

// Slug lowercases s, replaces runs of characters outside [a-z0-9_-] with a
// single "-", collapses repeated "-", and trims leading/trailing "-".
// Slug is idempotent: Slug(Slug(x)) == Slug(x).
func Slug(s string) string {
	s = strings.ToLower(s)
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// McpPrefix returns the allow-prefix an enabled MCP server named name
// contributes, e.g. "Task Manager" -> "mcp_task_manager_".
func McpPrefix(name string) string {
	return "mcp_" + strings.ReplaceAll(Slug(name), "-", "_") + "_"
}

const (
	envStateRootPrimary   = "MCP_STATE_ROOT"
	envStateRootSecondary = "SUBAGENT_STATE_ROOT"
	legacyStateDirName    = ".mcp_servers"
	stateDirName          = ".mcp-servers"
)

// StateRoot resolves the base state directory per the recognized
// environment variables, falling back to $HOME/.mcp-servers (preferring the
// legacy $HOME/.mcp_servers if it already exists).
func StateRoot() string {
	if v := os.Getenv(envStateRootPrimary); v != "" {
		return v
	}
	if v := os.Getenv(envStateRootSecondary); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	legacy := filepath.Join(home, legacyStateDirName)
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		return legacy
	}
	return filepath.Join(home, stateDirName)
}

// ServerStateDir returns <stateRoot>/<serverName>, the directory a single
// router instance persists its db, registry, and manifest files under.
func ServerStateDir(serverName string) string {
	return filepath.Join(StateRoot(), serverName)
}

// CallerModel resolves the process-wide caller model identifier, following
// the same MODEL_CLI_* convention as SessionRunIDs. Empty if unset — the
// caller did not identify itself by model.
func CallerModel() string {
	return os.Getenv("MODEL_CLI_MODEL")
}

// SessionRunIDs resolves the process-wide session and run identifiers from
// the recognized environment variables, generating either that is absent.
// Called once at startup; the results are threaded explicitly through
// constructors rather than read again from the environment.
func SessionRunIDs() (sessionID, runID string) {
	sessionID = os.Getenv("MODEL_CLI_SESSION_ID")
	if sessionID == "" {
		sessionID = New()
	}
	runID = os.Getenv("MODEL_CLI_RUN_ID")
	if runID == "" {
		runID = New()
	}
	return sessionID, runID
}
