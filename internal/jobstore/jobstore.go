// Package jobstore persists jobs, their append-only event trails, and a
// log of which model served each job, in a single-node sqlite database.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "jobstore")

const defaultListLimit = 200
const defaultSessionsLimit = 50

// Store is the durable job/event/model-route table set.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory (unless path is ":memory:"), opens the
// database in WAL mode, and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create jobstore dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open jobstore: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate jobstore: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			task TEXT NOT NULL,
			agent_id TEXT,
			command_id TEXT,
			payload_json TEXT,
			result_json TEXT,
			error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_session_id ON jobs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT,
			created_at DATETIME NOT NULL,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)`,
		`CREATE TABLE IF NOT EXISTS model_routes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_routes_job_id ON model_routes(job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// CreateJob inserts a new job with status "queued".
func (s *Store) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	now := time.Now().UTC()
	job.Status = model.JobQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, task, agent_id, command_id, payload_json, result_json, error, created_at, updated_at, session_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Task, job.AgentID, job.CommandID, job.PayloadJSON, job.ResultJSON, job.Error,
		job.CreatedAt, job.UpdatedAt, job.SessionID, job.RunID,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus changes status, result, and error, bumping updatedAt.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, resultJSON string, jobErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_json = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		status, resultJSON, jobErr, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (model.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, task, agent_id, command_id, payload_json, result_json, error, created_at, updated_at, session_id, run_id
		FROM jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("get job: %w", err)
	}
	return job, true, nil
}

// AppendEvent inserts an append-only job event.
func (s *Store) AppendEvent(ctx context.Context, event model.JobEvent) error {
	event.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (job_id, type, payload_json, created_at, session_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.JobID, event.Type, event.PayloadJSON, event.CreatedAt, event.SessionID, event.RunID,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns every event for a job, oldest first.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]model.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, type, payload_json, created_at, session_id, run_id
		FROM events WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Type, &payload, &e.CreatedAt, &e.SessionID, &e.RunID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.PayloadJSON = payload.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordModelRoute logs which model served a job.
func (s *Store) RecordModelRoute(ctx context.Context, jobID, sessionID, runID, modelID, modelName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_routes (job_id, session_id, run_id, model_id, model_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, sessionID, runID, modelID, modelName, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record model route: %w", err)
	}
	return nil
}

// ListJobsQuery narrows a ListJobs call.
type ListJobsQuery struct {
	SessionID   string
	Status      model.JobStatus
	Limit       int
	AllSessions bool
}

// ListJobs orders by createdAt DESC, defaulting to a limit of 200.
func (s *Store) ListJobs(ctx context.Context, q ListJobsQuery) ([]model.Job, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, status, task, agent_id, command_id, payload_json, result_json, error, created_at, updated_at, session_id, run_id FROM jobs WHERE 1=1`
	var args []any

	if !q.AllSessions && q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SessionActivity summarizes one session for listSessions.
type SessionActivity struct {
	SessionID     string    `json:"sessionId"`
	JobCount      int       `json:"jobCount"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// ListSessions returns sessions ordered by most recent job activity.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionActivity, error) {
	if limit <= 0 {
		limit = defaultSessionsLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(updated_at)
		FROM jobs
		GROUP BY session_id
		ORDER BY MAX(updated_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionActivity
	for rows.Next() {
		var a SessionActivity
		var lastUpdated any
		if err := rows.Scan(&a.SessionID, &a.JobCount, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		// MAX() drops the column's DATETIME type, so the driver may hand
		// back the stored text (time.Time.String form) instead of a time.
		switch v := lastUpdated.(type) {
		case time.Time:
			a.LastUpdatedAt = v
		case string:
			a.LastUpdatedAt, _ = time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", v)
		}
		sessions = append(sessions, a)
	}
	return sessions, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (model.Job, error) {
	var job model.Job
	var agentID, commandID, payloadJSON, resultJSON, jobErr sql.NullString
	err := row.Scan(&job.ID, &job.Status, &job.Task, &agentID, &commandID, &payloadJSON, &resultJSON, &jobErr,
		&job.CreatedAt, &job.UpdatedAt, &job.SessionID, &job.RunID)
	if err != nil {
		return model.Job{}, err
	}
	job.AgentID = agentID.String
	job.CommandID = commandID.String
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.Error = jobErr.String
	return job, nil
}

// MarshalPayload is a small convenience for callers building payloadJSON.
func MarshalPayload(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("failed to marshal job payload", "error", err)
		return ""
	}
	return string(raw)
}
