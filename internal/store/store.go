// Package store persists runs, their tool calls, and generation schedules in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tagweave/tagweave/config"
)

type Store struct {
	DB *sql.DB
}

// Run statuses persisted in the runs table.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunRecord is one persisted generation run.
type RunRecord struct {
	ID         string
	Status     string
	Input      json.RawMessage
	Output     json.RawMessage
	Raw        string
	Error      *string
	Cost       float64
	TokensUsed int64
	DurationMS int64
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ToolCallRecord is one capability invocation made during a run.
type ToolCallRecord struct {
	RunID      string
	Seq        int
	Provider   string
	Capability string
	Params     json.RawMessage
	Result     json.RawMessage
	CreatedAt  time.Time
}

// ScheduleRecord is a recurring generation request.
type ScheduleRecord struct {
	ID        string
	Name      string
	Cron      string
	Input     json.RawMessage
	Enabled   bool
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunStats aggregates the runs table for the stats endpoint.
type RunStats struct {
	TotalRuns   int64
	Succeeded   int64
	Failed      int64
	TotalCost   float64
	TotalTokens int64
}

// New opens a connection pool from the postgres section of the config.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// CreateRun inserts a running row. The id comes from the caller so the row
// exists before the orchestrator starts.
func (s *Store) CreateRun(ctx context.Context, id string, input json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("run id required")
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runs (id, status, input) VALUES ($1,$2,$3)`, id, RunStatusRunning, []byte(input))
	return err
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id required")
	}
	var output any
	if len(rec.Output) > 0 {
		output = []byte(rec.Output)
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, output=$3, raw=$4, error=$5, cost=$6, tokens_used=$7, duration_ms=$8, finished_at=NOW()
WHERE id=$1
`, rec.ID, rec.Status, output, rec.Raw, rec.Error, rec.Cost, rec.TokensUsed, rec.DurationMS)
	return err
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, status, input, output, raw, error, cost, tokens_used, duration_ms, started_at, finished_at
FROM runs
WHERE id=$1
`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, status, input, output, raw, error, cost, tokens_used, duration_ms, started_at, finished_at
FROM runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec    RunRecord
		input  []byte
		output []byte
	)
	if err := row.Scan(&rec.ID, &rec.Status, &input, &output, &rec.Raw, &rec.Error, &rec.Cost, &rec.TokensUsed, &rec.DurationMS, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return RunRecord{}, err
	}
	rec.Input = json.RawMessage(input)
	if output != nil {
		rec.Output = json.RawMessage(output)
	}
	return rec, nil
}

// InsertToolCalls persists the tool calls of a run in invocation order.
func (s *Store) InsertToolCalls(ctx context.Context, runID string, calls []ToolCallRecord) error {
	for i, c := range calls {
		params := c.Params
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		var result any
		if len(c.Result) > 0 {
			result = []byte(c.Result)
		}
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO run_tool_calls (run_id, seq, provider, capability, params, result)
VALUES ($1,$2,$3,$4,$5,$6)
`, runID, i, c.Provider, c.Capability, []byte(params), result)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListToolCalls returns a run's tool calls in invocation order.
func (s *Store) ListToolCalls(ctx context.Context, runID string) ([]ToolCallRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, seq, provider, capability, params, result, created_at
FROM run_tool_calls
WHERE run_id=$1
ORDER BY seq
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ToolCallRecord
	for rows.Next() {
		var (
			rec    ToolCallRecord
			params []byte
			result []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Provider, &rec.Capability, &params, &result, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Params = json.RawMessage(params)
		if result != nil {
			rec.Result = json.RawMessage(result)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates run counts, cost and token totals.
func (s *Store) Stats(ctx context.Context) (RunStats, error) {
	var st RunStats
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status='succeeded'),
       COUNT(*) FILTER (WHERE status='failed'),
       COALESCE(SUM(cost),0),
       COALESCE(SUM(tokens_used),0)
FROM runs
`).Scan(&st.TotalRuns, &st.Succeeded, &st.Failed, &st.TotalCost, &st.TotalTokens)
	return st, err
}

// CreateSchedule inserts a schedule and returns it with generated fields.
func (s *Store) CreateSchedule(ctx context.Context, rec ScheduleRecord) (ScheduleRecord, error) {
	if rec.Name == "" {
		return ScheduleRecord{}, fmt.Errorf("schedule name required")
	}
	if rec.Cron == "" {
		rec.Cron = "@daily"
	}
	input := rec.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO schedules (name, cron, input, enabled)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at, updated_at
`, rec.Name, rec.Cron, []byte(input), rec.Enabled).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return ScheduleRecord{}, err
	}
	rec.Input = input
	return rec, nil
}

// GetSchedule fetches one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (ScheduleRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, name, cron, input, enabled, last_run_at, created_at, updated_at
FROM schedules
WHERE id=$1
`, id)
	rec, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return ScheduleRecord{}, false, nil
	}
	if err != nil {
		return ScheduleRecord{}, false, err
	}
	return rec, true, nil
}

// ListSchedules returns every schedule, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, cron, input, enabled, last_run_at, created_at, updated_at
FROM schedules
ORDER BY created_at
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (ScheduleRecord, error) {
	var (
		rec   ScheduleRecord
		input []byte
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Cron, &input, &rec.Enabled, &rec.LastRunAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ScheduleRecord{}, err
	}
	rec.Input = json.RawMessage(input)
	return rec, nil
}

// UpdateSchedule rewrites a schedule's mutable fields. Returns false when the
// id does not exist.
func (s *Store) UpdateSchedule(ctx context.Context, rec ScheduleRecord) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("schedule id required")
	}
	input := rec.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE schedules SET name=$2, cron=$3, input=$4, enabled=$5, updated_at=NOW()
WHERE id=$1
`, rec.ID, rec.Name, rec.Cron, []byte(input), rec.Enabled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSchedule removes a schedule. Returns false when the id does not
// exist.
func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkScheduleRun stamps a schedule's last run time.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}
