package router

import (
	"context"
	"encoding/json"

	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/model"
)

// StartSubAgentAsync creates a tracked job and runs it in a background
// goroutine, returning immediately with the job already marked running.
func (r *Router) StartSubAgentAsync(ctx context.Context, params RunParams) (model.Job, error) {
	agent, cmd, err := r.resolveAgentCommand(params.AgentID, params.CommandID)
	if err != nil {
		return model.Job{}, err
	}

	runID := params.RunID
	if runID == "" {
		runID = r.runID
	}
	params.RunID = runID

	job := model.Job{
		ID:        ids.New(),
		Task:      params.Task,
		AgentID:   params.AgentID,
		CommandID: params.CommandID,
		SessionID: r.sessionID,
		RunID:     runID,
	}
	job, err = r.jobStore.CreateJob(ctx, job)
	if err != nil {
		return model.Job{}, err
	}
	if err := r.jobStore.UpdateJobStatus(ctx, job.ID, model.JobRunning, "", ""); err != nil {
		return model.Job{}, err
	}
	job.Status = model.JobRunning

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.inflight[job.ID] = &inflightHandle{cancel: cancel}
	r.mu.Unlock()

	sink := &jobEventSink{ctx: context.Background(), store: r.jobStore, jobID: job.ID, sessionID: r.sessionID, runID: runID}
	sink.Emit(model.EventStart, map[string]any{"agentId": params.AgentID, "commandId": params.CommandID})

	go r.runAsyncJob(runCtx, job.ID, agent, cmd, params, sink)

	return job, nil
}

func (r *Router) runAsyncJob(ctx context.Context, jobID string, agent model.Agent, cmd model.Command, params RunParams, sink *jobEventSink) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, jobID)
		r.mu.Unlock()
	}()

	rt := r.effectiveRuntime(ctx)
	payload := r.runCore(ctx, agent, cmd, params, rt, sink)

	r.mu.Lock()
	cancelled := r.cancelled[jobID]
	r.mu.Unlock()

	if cancelled {
		sink.Emit(model.EventFinishIgnored, map[string]any{"status": payload.Status})
		return
	}

	status := model.JobDone
	if payload.Status == "error" {
		status = model.JobError
	}

	resultJSON, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal job result", "job", jobID, "error", err)
	}
	if err := r.jobStore.UpdateJobStatus(ctx, jobID, status, string(resultJSON), payload.Error); err != nil {
		logger.Warn("failed to update job status", "job", jobID, "error", err)
	}
	sink.Emit(model.EventFinish, map[string]any{"status": string(status)})
}

// GetSubAgentStatus returns the current state of a job owned by this
// session.
func (r *Router) GetSubAgentStatus(ctx context.Context, jobID string) (model.Job, error) {
	job, ok, err := r.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if !ok {
		return model.Job{}, model.NotFound("job not found: " + jobID)
	}
	if job.SessionID != r.sessionID {
		return model.Job{}, model.ForeignSession("job belongs to a different session: " + jobID)
	}
	return job, nil
}

// CancelSubAgentJob marks a job cancelled and cancels its context, so the
// running process or LLM turn is aborted (process backends then see
// an immediate kill via procrunner's context-cancellation handling). Idempotent: a
// job already in a terminal state is reported as-is without error.
func (r *Router) CancelSubAgentJob(ctx context.Context, jobID string) (bool, model.JobStatus, error) {
	job, ok, err := r.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", model.NotFound("job not found: " + jobID)
	}
	if job.SessionID != r.sessionID {
		return false, "", model.ForeignSession("job belongs to a different session: " + jobID)
	}
	if job.Status.Terminal() {
		return false, job.Status, nil
	}

	r.mu.Lock()
	r.cancelled[jobID] = true
	handle := r.inflight[jobID]
	r.mu.Unlock()

	if handle != nil {
		handle.cancel()
	}

	if err := r.jobStore.UpdateJobStatus(ctx, jobID, model.JobCancelled, job.ResultJSON, job.Error); err != nil {
		return false, "", err
	}
	if err := r.jobStore.AppendEvent(ctx, model.JobEvent{
		JobID:     jobID,
		Type:      model.EventCancel,
		SessionID: r.sessionID,
		RunID:     job.RunID,
	}); err != nil {
		logger.Warn("failed to append cancel event", "job", jobID, "error", err)
	}

	return true, model.JobCancelled, nil
}
