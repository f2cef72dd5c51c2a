// Package llmdriver mediates calls to a configured chat-completion
// endpoint: chat-completions and responses wire styles, streaming,
// retry/backoff, and structured event emission for persistence.
package llmdriver

import (
	"encoding/json"
	"log/slog"

	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "llmdriver")

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set when Role == "tool"
}

// ToolCall is a single function-call the model asked for.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// ToolDecl describes one tool exposed to the model.
type ToolDecl struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// TurnResult is what a single (possibly retried) model call produced.
type TurnResult struct {
	Text      string
	ToolCalls []ToolCall
	Truncated bool
}

// Options bounds a single RunTurn call.
type Options struct {
	TimeoutMs      int64
	MaxOutputBytes int64
	MaxRetries     int
}

// EventSink receives structured driver events for job-event persistence.
// Implementations must never panic; the driver swallows handler errors to
// protect the main flow.
type EventSink interface {
	Emit(eventType model.EventType, payload map[string]any)
}

func safeEmit(sink EventSink, eventType model.EventType, payload map[string]any) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event sink panicked", "event", eventType, "recovered", r)
		}
	}()
	sink.Emit(eventType, payload)
}
