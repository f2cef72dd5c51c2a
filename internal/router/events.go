package router

import (
	"context"
	"encoding/json"

	"github.com/leeoohoo/subagent-router/internal/jobstore"
	"github.com/leeoohoo/subagent-router/internal/model"
)

// jobEventSink persists driver/tool-loop events against one job. Satisfies
// llmdriver.EventSink.
type jobEventSink struct {
	ctx       context.Context
	store     *jobstore.Store
	jobID     string
	sessionID string
	runID     string
}

func (s *jobEventSink) Emit(eventType model.EventType, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal event payload", "event", eventType, "error", err)
		raw = nil
	}
	event := model.JobEvent{
		JobID:       s.jobID,
		Type:        eventType,
		PayloadJSON: string(raw),
		SessionID:   s.sessionID,
		RunID:       s.runID,
	}
	if err := s.store.AppendEvent(s.ctx, event); err != nil {
		logger.Warn("failed to append job event", "job", s.jobID, "event", eventType, "error", err)
	}
}
