package llmdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// chatCompletionsRaw hand-rolls the chat-completions request when the
// reasoning hint must be set: go-openai's typed request has no field for
// the vendor-specific "thinking" object, so this path builds the JSON body
// directly and parses the SSE stream itself.
func chatCompletionsRaw(ctx context.Context, httpClient *http.Client, cfg model.ModelConfig, systemPrompt string, messages []Message, tools []ToolDecl, opts Options) (TurnResult, error) {
	body := map[string]any{
		"model":    cfg.Model,
		"stream":   true,
		"messages": rawMessages(systemPrompt, messages),
	}
	if len(tools) > 0 {
		body["tools"] = rawTools(tools)
	}
	if usesReasoningHint(cfg) {
		body["thinking"] = map[string]any{"type": "enabled"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return TurnResult{}, fmt.Errorf("encode chat completions request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return TurnResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return TurnResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TurnResult{}, &httpStatusError{status: resp.StatusCode, body: string(errBody)}
	}

	var text []byte
	truncated := false
	toolCalls := map[int]*ToolCall{}
	var order []int

	scanErr := scanSSE(resp.Body, func(event, data string) bool {
		if data == "[DONE]" {
			return true
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false
		}
		if len(chunk.Choices) == 0 {
			return false
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			remaining := opts.MaxOutputBytes - int64(len(text))
			if opts.MaxOutputBytes > 0 && int64(len(delta.Content)) > remaining {
				text = append(text, delta.Content[:remaining]...)
				truncated = true
				return true
			}
			text = append(text, delta.Content...)
			if opts.MaxOutputBytes > 0 && int64(len(text)) >= opts.MaxOutputBytes {
				truncated = true
				return true
			}
		}
		for _, tc := range delta.ToolCalls {
			if toolCalls[tc.Index] == nil {
				toolCalls[tc.Index] = &ToolCall{}
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				toolCalls[tc.Index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[tc.Index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[tc.Index].ArgumentsJSON += tc.Function.Arguments
			}
		}
		return false
	})
	if scanErr != nil {
		return TurnResult{}, scanErr
	}

	result := TurnResult{Text: string(text), Truncated: truncated}
	for _, idx := range order {
		if tc := toolCalls[idx]; tc.ID != "" && tc.Name != "" {
			result.ToolCalls = append(result.ToolCalls, *tc)
		}
	}
	return result, nil
}

func rawMessages(systemPrompt string, messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, map[string]any{"role": "system", "content": systemPrompt})
	}
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.Role == "tool" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.ArgumentsJSON,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

func rawTools(tools []ToolDecl) []map[string]any {
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		var schema any = map[string]any{"type": "object", "properties": map[string]any{}}
		if len(t.Schema) > 0 {
			schema = json.RawMessage(t.Schema)
		}
		out[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schema,
			},
		}
	}
	return out
}
