// Package toolloop drives a multi-turn LLM conversation that may call
// tools, invoking them strictly sequentially in the model's reply order.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/leeoohoo/subagent-router/internal/llmdriver"
	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "toolloop")

const defaultMaxTurns = 100

// ErrMaxTurnsExhausted is returned when the loop runs out of turns without
// the model producing a final, tool-call-free answer.
var ErrMaxTurnsExhausted = errors.New("tool loop exhausted max turns without a final answer")

// Invoker calls a single tool by name with its raw JSON arguments and
// returns the tool's result text.
type Invoker func(ctx context.Context, toolName string, argumentsJSON string) (string, error)

// Options bounds a Run call.
type Options struct {
	MaxTurns   int
	TurnLimits llmdriver.Options
}

// Result is the outcome of a completed or exhausted tool loop.
type Result struct {
	Text              string
	Truncated         bool
	MaxTurnsExhausted bool
}

// Run drives turns against driver until the model returns a tool-call-free
// answer, maxTurns is exhausted, or ctx is cancelled.
func Run(ctx context.Context, driver *llmdriver.Driver, systemPrompt string, userMessage string, tools []llmdriver.ToolDecl, invoke Invoker, opts Options, sink llmdriver.EventSink) (Result, error) {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	messages := []llmdriver.Message{{Role: "user", Content: userMessage}}

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		turnResult, err := driver.RunTurn(ctx, systemPrompt, messages, tools, opts.TurnLimits, sink)
		if err != nil {
			return Result{}, err
		}

		if len(turnResult.ToolCalls) == 0 {
			return Result{Text: turnResult.Text, Truncated: turnResult.Truncated}, nil
		}

		messages = append(messages, llmdriver.Message{
			Role:      "assistant",
			Content:   turnResult.Text,
			ToolCalls: turnResult.ToolCalls,
		})

		for _, call := range turnResult.ToolCalls {
			safeEmitToolCall(sink, call)

			var args map[string]any
			if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
				resultJSON := synthesizeArgError(call, err)
				messages = append(messages, llmdriver.Message{
					Role:       "tool",
					Content:    resultJSON,
					ToolCallID: call.ID,
				})
				safeEmitToolResult(sink, call, resultJSON)
				continue
			}

			resultText, err := invoke(ctx, call.Name, call.ArgumentsJSON)
			if err != nil {
				resultText = synthesizeInvokeError(call, err)
			}
			messages = append(messages, llmdriver.Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
			})
			safeEmitToolResult(sink, call, resultText)
		}
	}

	safeEmitFinishError(sink)
	return Result{MaxTurnsExhausted: true}, ErrMaxTurnsExhausted
}

func synthesizeArgError(call llmdriver.ToolCall, err error) string {
	raw, marshalErr := json.Marshal(map[string]any{
		"ok":    false,
		"tool":  call.Name,
		"error": "invalid tool arguments JSON: " + err.Error(),
	})
	if marshalErr != nil {
		return `{"ok":false,"error":"invalid tool arguments JSON"}`
	}
	return string(raw)
}

func synthesizeInvokeError(call llmdriver.ToolCall, err error) string {
	raw, marshalErr := json.Marshal(map[string]any{
		"ok":    false,
		"tool":  call.Name,
		"error": err.Error(),
	})
	if marshalErr != nil {
		return `{"ok":false,"error":"tool invocation failed"}`
	}
	return string(raw)
}

func safeEmitToolCall(sink llmdriver.EventSink, call llmdriver.ToolCall) {
	if sink == nil {
		return
	}
	defer recoverEmit("tool_call")
	sink.Emit(model.EventToolCall, map[string]any{
		"id":        call.ID,
		"name":      call.Name,
		"arguments": call.ArgumentsJSON,
	})
}

func safeEmitToolResult(sink llmdriver.EventSink, call llmdriver.ToolCall, result string) {
	if sink == nil {
		return
	}
	defer recoverEmit("tool_result")
	sink.Emit(model.EventToolResult, map[string]any{
		"id":     call.ID,
		"name":   call.Name,
		"result": llmdriver.TruncateForLog(result, 4000),
	})
}

func safeEmitFinishError(sink llmdriver.EventSink) {
	if sink == nil {
		return
	}
	defer recoverEmit("finish_error")
	sink.Emit(model.EventFinishError, map[string]any{
		"reason": "max_turns_exhausted",
	})
}

func recoverEmit(event string) {
	if r := recover(); r != nil {
		logger.Warn("event sink panicked", "event", event, "recovered", r)
	}
}
