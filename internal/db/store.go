// Package db persists fraudcrew runs, task executions and their event
// timeline in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusReused marks a task copied from an earlier run by replay.
	StatusReused = "reused"
)

// timeLayout sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Store provides persistence for runs and task executions.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is a row of the runs table.
type RunRecord struct {
	RunID            string
	CreatedAt        time.Time
	FinishedAt       time.Time
	Status           string
	Mode             string
	Model            string
	Dataset          string
	BundleJSON       string
	CurrentTaskIndex int
	ReplayOf         string
	Error            string
	RunDir           string
}

// TaskRecord is a row of the task_runs table.
type TaskRecord struct {
	RunID     string
	TaskIndex int
	TaskName  string
	AgentRole string
	Status    string
	StepDir   string
	StartedAt time.Time
	EndedAt   time.Time
	Output    string
	Error     string
}

// Event is a timeline entry of a run.
type Event struct {
	Seq      int
	TS       time.Time
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	return s.inTx(ctx, "create run", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, status, mode, model, dataset, bundle_json, current_task_index, replay_of, run_dir)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, formatTime(run.CreatedAt), run.Status, run.Mode, run.Model, run.Dataset, run.BundleJSON,
			run.CurrentTaskIndex, nullableString(run.ReplayOf), run.RunDir); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return s.insertEvent(ctx, tx, run.RunID, "run_started", "run started", "")
	})
}

// StartTask records task index as running and moves the run cursor to it.
func (s *Store) StartTask(ctx context.Context, task TaskRecord) error {
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now()
	}
	return s.inTx(ctx, "start task", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO task_runs(run_id, task_index, task_name, agent_role, status, step_dir, started_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			task.RunID, task.TaskIndex, task.TaskName, task.AgentRole, StatusRunning, nullableString(task.StepDir), formatTime(task.StartedAt)); err != nil {
			return fmt.Errorf("insert task run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET current_task_index=? WHERE run_id=?`, task.TaskIndex, task.RunID); err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		return s.insertEvent(ctx, tx, task.RunID, "task_started", task.TaskName+" started", "")
	})
}

// FinishTask stores the output of a completed task.
func (s *Store) FinishTask(ctx context.Context, runID string, index int, output string, endedAt time.Time) error {
	return s.inTx(ctx, "finish task", func(tx *sql.Tx) error {
		name, err := s.updateTask(ctx, tx, runID, index, StatusCompleted, output, "", endedAt)
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, runID, "task_finished", name+" finished", "")
	})
}

// FailTask stores the error of a failed task.
func (s *Store) FailTask(ctx context.Context, runID string, index int, cause string) error {
	return s.inTx(ctx, "fail task", func(tx *sql.Tx) error {
		name, err := s.updateTask(ctx, tx, runID, index, StatusFailed, "", cause, time.Now())
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, runID, "task_failed", name+" failed: "+cause, "")
	})
}

// ReuseTask copies a task output from an earlier run.
func (s *Store) ReuseTask(ctx context.Context, task TaskRecord) error {
	return s.inTx(ctx, "reuse task", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO task_runs(run_id, task_index, task_name, agent_role, status, step_dir, started_at, ended_at, output)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.RunID, task.TaskIndex, task.TaskName, task.AgentRole, StatusReused, nullableString(task.StepDir),
			nullableTime(task.StartedAt), nullableTime(task.EndedAt), task.Output); err != nil {
			return fmt.Errorf("insert reused task: %w", err)
		}
		return s.insertEvent(ctx, tx, task.RunID, "task_reused", task.TaskName+" reused", "")
	})
}

// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status, cause string) error {
	return s.inTx(ctx, "finish run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, error=?, finished_at=? WHERE run_id=?`,
			status, nullableString(cause), formatTime(time.Now()), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		msg := "run " + status
		if cause != "" {
			msg += ": " + cause
		}
		return s.insertEvent(ctx, tx, runID, "run_"+status, msg, "")
	})
}

// AddEvent appends a free-form event to the run timeline.
func (s *Store) AddEvent(ctx context.Context, runID, typ, message, dataJSON string) error {
	return s.inTx(ctx, "add event", func(tx *sql.Tx) error {
		return s.insertEvent(ctx, tx, runID, typ, message, dataJSON)
	})
}

const runColumns = `run_id, created_at, finished_at, status, mode, model, dataset, bundle_json, current_task_index, replay_of, error, run_dir`

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun(ctx context.Context) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// TaskRuns returns the task executions of a run in task order.
func (s *Store) TaskRuns(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, task_index, task_name, agent_role, status, step_dir, started_at, ended_at, output, error
		FROM task_runs WHERE run_id=? ORDER BY task_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var stepDir, startedAt, endedAt, output, cause sql.NullString
		if err := rows.Scan(&t.RunID, &t.TaskIndex, &t.TaskName, &t.AgentRole, &t.Status, &stepDir, &startedAt, &endedAt, &output, &cause); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		t.StepDir = stepDir.String
		t.StartedAt = parseTime(startedAt.String)
		t.EndedAt = parseTime(endedAt.String)
		t.Output = output.String
		t.Error = cause.String
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task runs: %w", err)
	}
	return tasks, nil
}

// Events returns the timeline of a run in sequence order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, data_json FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		var data sql.NullString
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS = parseTime(ts)
		ev.DataJSON = data.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var r RunRecord
	var createdAt string
	var finishedAt, replayOf, cause sql.NullString
	if err := row.Scan(&r.RunID, &createdAt, &finishedAt, &r.Status, &r.Mode, &r.Model, &r.Dataset, &r.BundleJSON,
		&r.CurrentTaskIndex, &replayOf, &cause, &r.RunDir); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.FinishedAt = parseTime(finishedAt.String)
	r.ReplayOf = replayOf.String
	r.Error = cause.String
	return r, nil
}

func (s *Store) updateTask(ctx context.Context, tx *sql.Tx, runID string, index int, status, output, cause string, endedAt time.Time) (string, error) {
	var name string
	row := tx.QueryRowContext(ctx, `SELECT task_name FROM task_runs WHERE run_id=? AND task_index=?`, runID, index)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("task %d of run %s was not started", index, runID)
		}
		return "", fmt.Errorf("read task run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE task_runs SET status=?, output=?, error=?, ended_at=? WHERE run_id=? AND task_index=?`,
		status, nullableString(output), nullableString(cause), formatTime(endedAt), runID, index); err != nil {
		return "", fmt.Errorf("update task run: %w", err)
	}
	return name, nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, formatTime(time.Now()), typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
