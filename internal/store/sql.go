package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQLStore implements Store on database/sql against either embedded SQLite
// or Postgres. All queries use $N placeholders, which both drivers accept.
type SQLStore struct {
	db *sql.DB
}

// Open connects, pings, and ensures the schema exists. An empty dsn falls
// back to a sensible local default for the driver.
func Open(ctx context.Context, driver Driver, dsn string) (*SQLStore, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:raker.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/raker?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  requested_by TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  targets_json TEXT NOT NULL,
  respondents_json TEXT NOT NULL,
  options_json TEXT NOT NULL,
  respondent_count INTEGER NOT NULL DEFAULT 0,
  converged INTEGER NOT NULL DEFAULT 0,
  iterations INTEGER NOT NULL DEFAULT 0,
  max_deviation REAL NOT NULL DEFAULT 0,
  design_effect REAL NOT NULL DEFAULT 0,
  weights_json TEXT,
  report_json TEXT,
  error TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  started_at BIGINT,
  completed_at BIGINT,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_events (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  event TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  payload_json TEXT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  requested_by TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  targets_json TEXT NOT NULL,
  respondents_json TEXT NOT NULL,
  options_json TEXT NOT NULL,
  respondent_count INTEGER NOT NULL DEFAULT 0,
  converged INTEGER NOT NULL DEFAULT 0,
  iterations INTEGER NOT NULL DEFAULT 0,
  max_deviation DOUBLE PRECISION NOT NULL DEFAULT 0,
  design_effect DOUBLE PRECISION NOT NULL DEFAULT 0,
  weights_json TEXT,
  report_json TEXT,
  error TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  started_at BIGINT,
  completed_at BIGINT,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_events (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  event TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  payload_json TEXT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
`

const runColumns = `run_id, name, requested_by, status,
targets_json, respondents_json, options_json, respondent_count,
converged, iterations, max_deviation, design_effect,
weights_json, report_json, error,
created_at, started_at, completed_at, updated_at`

// summary columns leave the large JSON blobs out of list queries.
const runSummaryColumns = `run_id, name, requested_by, status,
targets_json, options_json, respondent_count,
converged, iterations, max_deviation, design_effect, error,
created_at, started_at, completed_at, updated_at`

func (s *SQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.RespondentCount == 0 {
		run.RespondentCount = len(run.Respondents)
	}

	targets, err := marshalText(run.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	respondents, err := marshalText(run.Respondents)
	if err != nil {
		return fmt.Errorf("marshal respondents: %w", err)
	}
	options, err := marshalText(run.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	weights, err := marshalNullable(run.Weights != nil, run.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	report, err := marshalNullable(run.Report != nil, run.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		run.ID.String(), run.Name, run.RequestedBy, string(run.Status),
		targets, respondents, options, run.RespondentCount,
		boolToInt(run.Converged), run.Iterations, run.MaxDeviation, run.DesignEffect,
		weights, report, run.Error,
		run.CreatedAt.UnixMilli(), millisPtr(run.StartedAt), millisPtr(run.CompletedAt), run.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1`, id.String())
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runSummaryColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}
	argc := 0

	if filter.Status != nil {
		argc++
		query += fmt.Sprintf(" AND status = $%d", argc)
		args = append(args, string(*filter.Status))
	}
	if filter.RequestedBy != "" {
		argc++
		query += fmt.Sprintf(" AND requested_by = $%d", argc)
		args = append(args, filter.RequestedBy)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		argc++
		query += fmt.Sprintf(" LIMIT $%d", argc)
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite rejects OFFSET without a LIMIT clause.
		argc++
		query += fmt.Sprintf(" LIMIT $%d", argc)
		args = append(args, math.MaxInt32)
	}
	if filter.Offset > 0 {
		argc++
		query += fmt.Sprintf(" OFFSET $%d", argc)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLStore) UpdateRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()

	weights, err := marshalNullable(run.Weights != nil, run.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	report, err := marshalNullable(run.Report != nil, run.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = $2, converged = $3, iterations = $4,
			max_deviation = $5, design_effect = $6,
			weights_json = $7, report_json = $8, error = $9,
			started_at = $10, completed_at = $11, updated_at = $12
		WHERE run_id = $1`,
		run.ID.String(), string(run.Status), boolToInt(run.Converged), run.Iterations,
		run.MaxDeviation, run.DesignEffect,
		weights, report, run.Error,
		millisPtr(run.StartedAt), millisPtr(run.CompletedAt), run.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *SQLStore) GetPendingRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("pending runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimRun moves a pending run to running. It reports false when someone
// else already claimed, cancelled, or finished the run.
func (s *SQLStore) ClaimRun(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, started_at = $3, updated_at = $3
		WHERE run_id = $1 AND status = $4`,
		id.String(), string(StatusRunning), startedAt.UTC().UnixMilli(), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelRun moves a pending run to cancelled. Runs that already started are
// left alone and the call reports false.
func (s *SQLStore) CancelRun(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, completed_at = $3, updated_at = $3
		WHERE run_id = $1 AND status = $4`,
		id.String(), string(StatusCancelled), now, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("cancel run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) GetStaleRuns(ctx context.Context, startedBefore time.Time) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 AND started_at < $2`,
		string(StatusRunning), startedBefore.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLStore) CreateRunEvent(ctx context.Context, event *RunEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	payload, err := marshalNullable(event.Payload != nil, event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, event, actor, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID.String(), event.RunID.String(), event.Event, event.Actor,
		payload, event.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRunEvents(ctx context.Context, runID uuid.UUID) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, event, actor, payload_json, created_at
		FROM run_events WHERE run_id = $1 ORDER BY created_at ASC, id ASC`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("run events: %w", err)
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		var (
			e             RunEvent
			idStr, ridStr string
			payload       sql.NullString
			createdAt     int64
		)
		if err := rows.Scan(&idStr, &ridStr, &e.Event, &e.Actor, &payload, &createdAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		if e.RunID, err = uuid.Parse(ridStr); err != nil {
			return nil, fmt.Errorf("parse event run id: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLStore) GetStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch RunStatus(status) {
		case StatusPending:
			stats.TotalPending = count
		case StatusRunning:
			stats.TotalRunning = count
		case StatusConverged:
			stats.TotalConverged = count
		case StatusNonConverged:
			stats.TotalNonConverged = count
		case StatusFailed:
			stats.TotalFailed = count
		case StatusCancelled:
			stats.TotalCancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(AVG(completed_at - started_at), 0),
			COALESCE(AVG(iterations), 0),
			COALESCE(AVG(design_effect), 0)
		FROM runs
		WHERE status IN ($1, $2) AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
		string(StatusConverged), string(StatusNonConverged)).
		Scan(&stats.AvgRuntimeMs, &stats.AvgIterations, &stats.AvgDesignEffect)
	if err != nil {
		return nil, fmt.Errorf("stats averages: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                    Run
		id, status             string
		targets, respondents   string
		options                string
		converged              int
		weights, report        sql.NullString
		createdAt, updatedAt   int64
		startedAt, completedAt sql.NullInt64
	)
	err := row.Scan(
		&id, &run.Name, &run.RequestedBy, &status,
		&targets, &respondents, &options, &run.RespondentCount,
		&converged, &run.Iterations, &run.MaxDeviation, &run.DesignEffect,
		&weights, &report, &run.Error,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	run.Status = RunStatus(status)
	run.Converged = converged != 0
	if err := json.Unmarshal([]byte(targets), &run.Targets); err != nil {
		return nil, fmt.Errorf("unmarshal targets: %w", err)
	}
	if err := json.Unmarshal([]byte(respondents), &run.Respondents); err != nil {
		return nil, fmt.Errorf("unmarshal respondents: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &run.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if weights.Valid && weights.String != "" {
		if err := json.Unmarshal([]byte(weights.String), &run.Weights); err != nil {
			return nil, fmt.Errorf("unmarshal weights: %w", err)
		}
	}
	if report.Valid && report.String != "" {
		if err := json.Unmarshal([]byte(report.String), &run.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}

func scanRunSummary(row scanner) (*Run, error) {
	var (
		run                    Run
		id, status, targets    string
		options                string
		converged              int
		createdAt, updatedAt   int64
		startedAt, completedAt sql.NullInt64
	)
	err := row.Scan(
		&id, &run.Name, &run.RequestedBy, &status,
		&targets, &options, &run.RespondentCount,
		&converged, &run.Iterations, &run.MaxDeviation, &run.DesignEffect, &run.Error,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	run.Status = RunStatus(status)
	run.Converged = converged != 0
	if err := json.Unmarshal([]byte(targets), &run.Targets); err != nil {
		return nil, fmt.Errorf("unmarshal targets: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &run.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}

func marshalText(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// marshalNullable returns a SQL NULL when present is false.
func marshalNullable(present bool, v interface{}) (interface{}, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millisPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
