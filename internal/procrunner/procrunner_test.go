package procrunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	spec := Spec{Exec: []string{"/bin/sh", "-c", "echo hello; echo err 1>&2; exit 0"}}
	result, err := Run(context.Background(), spec, RunContext{}, Options{MaxOutputBytes: 1024, TimeoutMs: 5000})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("stdout = %q, want to contain 'hello'", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "err") {
		t.Errorf("stderr = %q, want to contain 'err'", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("expected timed_out = false")
	}
	if result.StdoutTruncated || result.StderrTruncated {
		t.Error("expected no truncation")
	}
	if !result.Success() {
		t.Error("expected Success() = true")
	}
}

func TestRunTimesOutAndKills(t *testing.T) {
	spec := Spec{Exec: []string{"/bin/sh", "-c", "sleep 10"}}
	start := time.Now()
	result, err := Run(context.Background(), spec, RunContext{}, Options{TimeoutMs: 100})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected timed_out = true")
	}
	if result.Success() {
		t.Error("expected Success() = false after timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected SIGTERM+SIGKILL to end the process quickly, took %v", elapsed)
	}
}

func TestRunMissingExecFailsFast(t *testing.T) {
	_, err := Run(context.Background(), Spec{}, RunContext{}, Options{})
	if err == nil || !strings.Contains(err.Error(), "Command spec is missing exec") {
		t.Fatalf("expected missing exec error, got %v", err)
	}
}

func TestRunOutputTruncation(t *testing.T) {
	spec := Spec{Exec: []string{"/bin/sh", "-c", "printf '0123456789'"}}
	result, err := Run(context.Background(), spec, RunContext{}, Options{MaxOutputBytes: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Stdout) != 4 {
		t.Errorf("expected capped stdout of length 4, got %q", result.Stdout)
	}
	if !result.StdoutTruncated {
		t.Error("expected stdout_truncated = true")
	}
}

func TestResolveExecFromShellString(t *testing.T) {
	argv, err := ResolveExec(`foo 'a b' "c\"d"`)
	if err != nil {
		t.Fatalf("ResolveExec: %v", err)
	}
	want := []string{"foo", "a b", `c"d`}
	if len(argv) != len(want) {
		t.Fatalf("ResolveExec() = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestResolveExecFromSlice(t *testing.T) {
	argv, err := ResolveExec([]string{"echo", "hi"})
	if err != nil {
		t.Fatalf("ResolveExec: %v", err)
	}
	if len(argv) != 2 || argv[0] != "echo" || argv[1] != "hi" {
		t.Errorf("ResolveExec() = %v", argv)
	}
}

func TestRunWithInputWritesStdin(t *testing.T) {
	spec := Spec{Exec: []string{"/bin/cat"}}
	result, err := RunWithInput(context.Background(), spec, "piped data", RunContext{}, Options{})
	if err != nil {
		t.Fatalf("RunWithInput: %v", err)
	}
	if result.Stdout != "piped data" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "piped data")
	}
}

func TestBuildEnvInjectsSubagentVars(t *testing.T) {
	env := buildEnv(map[string]string{"FOO": "bar"}, RunContext{
		Task: "do the thing", SessionID: "s1", RunID: "r1",
		Skills: []string{"a", "b"}, AllowPrefixes: []string{"mcp_x_"},
	})
	joined := strings.Join(env, "\n")
	for _, want := range []string{"FOO=bar", "SUBAGENT_TASK=do the thing", "SUBAGENT_SESSION_ID=s1", "SUBAGENT_SKILLS=a,b", "SUBAGENT_ALLOW_PREFIXES=mcp_x_"} {
		if !strings.Contains(joined, want) {
			t.Errorf("env missing %q", want)
		}
	}
}
