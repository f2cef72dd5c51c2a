// Package model holds the data types shared across the sub-agent router:
// catalog entries, config-store records, and job/event records.
package model

import "time"

// Agent is a named capability with a prompt and/or an executable command,
// selectable by the router.
type Agent struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Category          string   `json:"category,omitempty"`
	Skills            []string `json:"skills,omitempty"`
	DefaultSkills     []string `json:"defaultSkills,omitempty"`
	Commands          []Command `json:"commands,omitempty"`
	DefaultCommand    string   `json:"defaultCommand,omitempty"`
	SystemPromptPath  string   `json:"systemPromptPath,omitempty"`
	Plugin            string   `json:"plugin,omitempty"`
}

// Command is a runnable form of an agent — either a child process or an
// LLM conversation prompt.
type Command struct {
	ID                string            `json:"id"`
	Name              string            `json:"name,omitempty"`
	Description       string            `json:"description,omitempty"`
	Exec              []string          `json:"exec,omitempty"`
	Cwd               string            `json:"cwd,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	InstructionsPath  string            `json:"instructionsPath,omitempty"`
}

// IsProcess reports whether the command runs as a child process rather
// than a prompt-only LLM turn.
func (c Command) IsProcess() bool {
	return len(c.Exec) > 0
}

// Skill is a named text resource appended to the system prompt.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Plugin      string `json:"plugin,omitempty"`
}

// MarketplaceRecord is a persisted marketplace manifest blob.
type MarketplaceRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	JSON        string    `json:"json"`
	PluginCount int       `json:"pluginCount"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// McpTransport enumerates the supported MCP server transports.
type McpTransport string

const (
	TransportStdio McpTransport = "stdio"
	TransportHTTP  McpTransport = "http"
	TransportSSE   McpTransport = "sse"
)

// McpServerConfig describes an upstream tool server the router can bridge to.
type McpServerConfig struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Transport   McpTransport `json:"transport"`
	Command     string       `json:"command,omitempty"`
	Args        []string     `json:"args,omitempty"`
	EndpointURL string       `json:"endpointUrl,omitempty"`
	HeadersJSON string       `json:"headersJson,omitempty"`
	Enabled     bool         `json:"enabled"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Validate checks the minimal required fields for a server config, per
// spec §3: name is always required; command/endpointUrl are required
// depending on transport.
func (c *McpServerConfig) Validate() error {
	if c.Name == "" {
		return errRequired("name")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return errRequired("command")
		}
	case TransportHTTP, TransportSSE:
		if c.EndpointURL == "" {
			return errRequired("endpointUrl")
		}
	}
	return nil
}

// ModelConfig describes a configured chat-completion endpoint.
type ModelConfig struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	APIKey           string `json:"apiKey"`
	BaseURL          string `json:"baseUrl"`
	Model            string `json:"model"`
	ReasoningEnabled bool   `json:"reasoningEnabled"`
	ResponsesEnabled bool   `json:"responsesEnabled"`
}

// RuntimeConfig holds optional overrides for CLI/env defaults. Zero values
// mean "unset" and the caller should fall back to the configured default.
type RuntimeConfig struct {
	AiTimeoutMs           int64 `json:"aiTimeoutMs,omitempty"`
	AiMaxOutputBytes      int64 `json:"aiMaxOutputBytes,omitempty"`
	AiToolMaxTurns        int   `json:"aiToolMaxTurns,omitempty"`
	AiMaxRetries          int   `json:"aiMaxRetries,omitempty"`
	CommandTimeoutMs      int64 `json:"commandTimeoutMs,omitempty"`
	CommandMaxOutputBytes int64 `json:"commandMaxOutputBytes,omitempty"`
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a sticky terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobDone, JobError, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is a single asynchronous invocation of run_sub_agent, persistently tracked.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Task        string    `json:"task"`
	AgentID     string    `json:"agentId,omitempty"`
	CommandID   string    `json:"commandId,omitempty"`
	PayloadJSON string    `json:"payloadJson,omitempty"`
	ResultJSON  string    `json:"resultJson,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	SessionID   string    `json:"sessionId"`
	RunID       string    `json:"runId"`
}

// EventType is drawn from a closed set of job lifecycle markers.
type EventType string

const (
	EventStart          EventType = "start"
	EventStartError     EventType = "start_error"
	EventFinish         EventType = "finish"
	EventFinishError    EventType = "finish_error"
	EventFinishIgnored  EventType = "finish_ignored"
	EventCancel         EventType = "cancel"
	EventAIRequest      EventType = "ai_request"
	EventAIResponse     EventType = "ai_response"
	EventAIError        EventType = "ai_error"
	EventAIRetry        EventType = "ai_retry"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
)

// JobEvent is an append-only record of a significant point in a job's lifetime.
type JobEvent struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"jobId"`
	Type        EventType `json:"type"`
	PayloadJSON string    `json:"payloadJson,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	SessionID   string    `json:"sessionId"`
	RunID       string    `json:"runId"`
}

type requiredFieldError struct{ field string }

func (e *requiredFieldError) Error() string { return e.field + " is required" }

func errRequired(field string) error { return &requiredFieldError{field: field} }
