package llmdriver

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// chatCompletionsOpenAI runs one streaming chat-completions attempt through
// the go-openai client. Used whenever the reasoning hint is not requested,
// since go-openai's typed request has no slot for the vendor-specific
// "thinking" field (see chatCompletionsRaw for that path).
func chatCompletionsOpenAI(ctx context.Context, client *openai.Client, cfg model.ModelConfig, systemPrompt string, messages []Message, tools []ToolDecl, opts Options) (TurnResult, error) {
	req := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Stream:   true,
		Messages: toOpenAIMessages(systemPrompt, messages),
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	defer stream.Close()

	var text []byte
	truncated := false
	toolCalls := map[int]*ToolCall{}
	var order []int

	for {
		if opts.MaxOutputBytes > 0 && int64(len(text)) >= opts.MaxOutputBytes {
			truncated = true
			break
		}
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return TurnResult{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			remaining := opts.MaxOutputBytes - int64(len(text))
			if opts.MaxOutputBytes > 0 && int64(len(delta.Content)) > remaining {
				text = append(text, delta.Content[:remaining]...)
				truncated = true
				break
			}
			text = append(text, delta.Content...)
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].ArgumentsJSON += tc.Function.Arguments
			}
		}
	}

	result := TurnResult{Text: string(text), Truncated: truncated}
	for _, idx := range order {
		if tc := toolCalls[idx]; tc.ID != "" && tc.Name != "" {
			result.ToolCalls = append(result.ToolCalls, *tc)
		}
	}
	return result, nil
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		switch m.Role {
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func toOpenAITools(tools []ToolDecl) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Schema) > 0 {
			if err := json.Unmarshal(t.Schema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}
