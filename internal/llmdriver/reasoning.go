package llmdriver

import (
	"strings"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// usesReasoningHint reports whether the request should carry the
// moonshot/kimi "thinking: {type: enabled}" field.
func usesReasoningHint(cfg model.ModelConfig) bool {
	if !cfg.ReasoningEnabled {
		return false
	}
	haystack := strings.ToLower(cfg.BaseURL + " " + cfg.Model)
	return strings.Contains(haystack, "moonshot") || strings.Contains(haystack, "kimi")
}
