package router

// RunPayload is the result of one run_sub_agent invocation, whichever
// backend served it.
type RunPayload struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	ExitCode        int    `json:"exit_code,omitempty"`
	Signal          string `json:"signal,omitempty"`
	TimedOut        bool   `json:"timed_out"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
	DurationMs      int64  `json:"duration_ms,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ToMap flattens the payload plus a chatos envelope into one JSON object,
// per spec: "All results wrap the payload with {chatos: {status, server, tool}}".
func (p RunPayload) ToMap(server, tool string) map[string]any {
	return map[string]any{
		"status":           p.Status,
		"stdout":           p.Stdout,
		"stderr":           p.Stderr,
		"exit_code":        p.ExitCode,
		"signal":           p.Signal,
		"timed_out":        p.TimedOut,
		"stdout_truncated": p.StdoutTruncated,
		"stderr_truncated": p.StderrTruncated,
		"duration_ms":      p.DurationMs,
		"error":            p.Error,
		"chatos": map[string]any{
			"status": p.Status,
			"server": server,
			"tool":   tool,
		},
	}
}

// WrapChatOS adds the {chatos:{status,server,tool}} envelope to an
// already-built result map, for tools whose payload isn't a RunPayload.
func WrapChatOS(payload map[string]any, status, server, tool string) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["chatos"] = map[string]any{
		"status": status,
		"server": server,
		"tool":   tool,
	}
	return payload
}
