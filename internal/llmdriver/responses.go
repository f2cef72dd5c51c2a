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

// responsesStyle calls the "responses" wire style: the input is the message
// array from rawMessages (system prompt first), consuming
// response.output_text.delta events;
// if the stream ends without ever seeing a delta, falls back to the final
// response's output array.
func responsesStyle(ctx context.Context, httpClient *http.Client, cfg model.ModelConfig, systemPrompt string, messages []Message, tools []ToolDecl, opts Options) (TurnResult, error) {
	body := map[string]any{
		"model":  cfg.Model,
		"stream": true,
		"input":  rawMessages(systemPrompt, messages),
	}
	if len(tools) > 0 {
		body["tools"] = rawTools(tools)
	}
	if usesReasoningHint(cfg) {
		body["thinking"] = map[string]any{"type": "enabled"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return TurnResult{}, fmt.Errorf("encode responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/responses", bytes.NewReader(raw))
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
	sawDelta := false
	var finalOutputText string

	scanErr := scanSSE(resp.Body, func(event, data string) bool {
		switch event {
		case "response.output_text.delta":
			var payload struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return false
			}
			sawDelta = true
			remaining := opts.MaxOutputBytes - int64(len(text))
			if opts.MaxOutputBytes > 0 && int64(len(payload.Delta)) > remaining {
				text = append(text, payload.Delta[:remaining]...)
				truncated = true
				return true
			}
			text = append(text, payload.Delta...)
			if opts.MaxOutputBytes > 0 && int64(len(text)) >= opts.MaxOutputBytes {
				truncated = true
				return true
			}
		case "response.completed":
			var payload struct {
				Response struct {
					Output []struct {
						Content []struct {
							Text string `json:"text"`
						} `json:"content"`
					} `json:"output"`
				} `json:"response"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err == nil {
				for _, o := range payload.Response.Output {
					for _, c := range o.Content {
						finalOutputText += c.Text
					}
				}
			}
		}
		return false
	})
	if scanErr != nil {
		return TurnResult{}, scanErr
	}

	if !sawDelta && finalOutputText != "" {
		text = []byte(finalOutputText)
		if opts.MaxOutputBytes > 0 && int64(len(text)) > opts.MaxOutputBytes {
			text = text[:opts.MaxOutputBytes]
			truncated = true
		}
	}

	return TurnResult{Text: string(text), Truncated: truncated}, nil
}
