package llmdriver

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// Driver runs chat turns against one configured model, retrying transient
// failures and emitting events for persistence.
type Driver struct {
	cfg        model.ModelConfig
	httpClient *http.Client
	openai     *openai.Client
}

// New builds a Driver for cfg. timeoutMs bounds every HTTP attempt it makes.
func New(cfg model.ModelConfig, timeoutMs int64) *Driver {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	oaiCfg.HTTPClient = httpClient

	return &Driver{
		cfg:        cfg,
		httpClient: httpClient,
		openai:     openai.NewClientWithConfig(oaiCfg),
	}
}

// RunTurn issues one (possibly retried) model call and emits ai_request,
// ai_response, ai_error, and ai_retry events via sink.
func (d *Driver) RunTurn(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDecl, opts Options, sink EventSink) (TurnResult, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		safeEmit(sink, model.EventAIRequest, map[string]any{
			"attempt": attempt,
			"model":   d.cfg.Model,
		})

		callCtx := ctx
		var cancel context.CancelFunc
		if opts.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		}

		result, err := d.runOnce(callCtx, systemPrompt, messages, tools, opts)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			safeEmit(sink, model.EventAIResponse, map[string]any{
				"attempt":   attempt,
				"truncated": result.Truncated,
				"textLen":   len(result.Text),
				"toolCalls": len(result.ToolCalls),
			})
			return result, nil
		}

		lastErr = err
		aborted := ctx.Err() != nil
		decision := DecideRetry(err, attempt, aborted)
		if !decision.Retry || attempt == maxRetries {
			safeEmit(sink, model.EventAIError, map[string]any{
				"attempt": attempt,
				"error":   TruncateForLog(err.Error(), 2000),
			})
			return TurnResult{}, lastErr
		}

		safeEmit(sink, model.EventAIRetry, map[string]any{
			"attempt": attempt,
			"delayMs": decision.DelayMs,
			"error":   TruncateForLog(err.Error(), 2000),
		})

		select {
		case <-time.After(time.Duration(decision.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return TurnResult{}, ctx.Err()
		}
	}
	return TurnResult{}, lastErr
}

func (d *Driver) runOnce(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDecl, opts Options) (TurnResult, error) {
	if d.cfg.ResponsesEnabled {
		return responsesStyle(ctx, d.httpClient, d.cfg, systemPrompt, messages, tools, opts)
	}
	if usesReasoningHint(d.cfg) {
		return chatCompletionsRaw(ctx, d.httpClient, d.cfg, systemPrompt, messages, tools, opts)
	}
	return chatCompletionsOpenAI(ctx, d.openai, d.cfg, systemPrompt, messages, tools, opts)
}

// Complete satisfies selector.Completer for LLM-assisted agent selection: a
// single turn, no tools, text-only.
func (d *Driver) Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	opts := Options{MaxOutputBytes: 8192, MaxRetries: 2}
	result, err := d.RunTurn(ctx, systemPrompt, []Message{{Role: "user", Content: userPrompt}}, nil, opts, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
