package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/schedlens/core/pkg/logger"
)

// DBTX is the querying interface shared by pgxpool.Pool, a dedicated
// pgxpool.Conn and transactions.
type DBTX interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row
}

// Run is one recorded job execution
type Run struct {
	ID              string        `json:"id"`
	JobName         string        `json:"job_name"`
	TriggerIdentity string        `json:"trigger_identity"`
	Source          string        `json:"source"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"-"`
	Error           string        `json:"error,omitempty"`
}

// ScheduleEvent is one audit entry for a schedule state transition
type ScheduleEvent struct {
	ID        string    `json:"id"`
	JobName   string    `json:"job_name"`
	Action    string    `json:"action"`
	Cron      string    `json:"cron,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// Audited schedule actions
const (
	ActionScheduled   = "scheduled"
	ActionRescheduled = "rescheduled"
	ActionPaused      = "paused"
	ActionResumed     = "resumed"
	ActionTriggered   = "triggered"
	ActionShutdown    = "shutdown"
)

// Known actors behind schedule actions
const (
	ActorAPI     = "api"
	ActorWatcher = "watcher"
	ActorStartup = "startup"
	ActorSignal  = "signal"
)

// Store persists job runs and schedule audit events
type Store struct {
	db     DBTX
	logger *logger.Logger
}

// New creates a store over the given database handle
func New(db DBTX) *Store {
	return &Store{
		db:     db,
		logger: logger.New("schedule-store"),
	}
}

const insertRunQuery = `
INSERT INTO job_runs (id, job_name, trigger_identity, source, started_at, duration_ms, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// InsertRun persists one job execution record
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	started := time.Now()
	_, err := s.db.Exec(ctx, insertRunQuery,
		run.ID, run.JobName, run.TriggerIdentity, run.Source,
		run.StartedAt, run.Duration.Milliseconds(), run.Error)
	s.logger.LogDatabaseOperation("insert", "job_runs", 1, time.Since(started), err)

	if err != nil {
		return fmt.Errorf("failed to insert job run: %w", err)
	}
	return nil
}

const listRunsQuery = `
SELECT id, job_name, trigger_identity, source, started_at, duration_ms, error
FROM job_runs
WHERE job_name = $1
ORDER BY started_at DESC
LIMIT $2`

// ListRuns returns the most recent runs for a job, newest first
func (s *Store) ListRuns(ctx context.Context, jobName string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, listRunsQuery, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var durationMS int64
		if err := rows.Scan(&run.ID, &run.JobName, &run.TriggerIdentity, &run.Source,
			&run.StartedAt, &durationMS, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job runs: %w", err)
	}
	return runs, nil
}

const insertScheduleEventQuery = `
INSERT INTO schedule_events (id, job_name, action, cron, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// InsertScheduleEvent persists one audit entry. A missing ID or timestamp
// is filled in.
func (s *Store) InsertScheduleEvent(ctx context.Context, event ScheduleEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	started := time.Now()
	_, err := s.db.Exec(ctx, insertScheduleEventQuery,
		event.ID, event.JobName, event.Action, event.Cron, event.Actor, event.CreatedAt)
	s.logger.LogDatabaseOperation("insert", "schedule_events", 1, time.Since(started), err)

	if err != nil {
		return fmt.Errorf("failed to insert schedule event: %w", err)
	}
	return nil
}

const listScheduleEventsQuery = `
SELECT id, job_name, action, cron, actor, created_at
FROM schedule_events
WHERE job_name = $1
ORDER BY created_at DESC
LIMIT $2`

// ListScheduleEvents returns the most recent audit entries for a job,
// newest first
func (s *Store) ListScheduleEvents(ctx context.Context, jobName string, limit int) ([]ScheduleEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, listScheduleEventsQuery, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule events: %w", err)
	}
	defer rows.Close()

	var events []ScheduleEvent
	for rows.Next() {
		var event ScheduleEvent
		if err := rows.Scan(&event.ID, &event.JobName, &event.Action,
			&event.Cron, &event.Actor, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schedule events: %w", err)
	}
	return events, nil
}
