package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/proctor/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    success     INTEGER,
    error       TEXT,
    report_path TEXT,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createReportsTable = `
CREATE TABLE IF NOT EXISTS reports (
    entity_id   TEXT PRIMARY KEY,
    entity_kind TEXT NOT NULL,
    path        TEXT NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    line         TEXT NOT NULL,
    created_at   DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createExecutionsTable, createReportsTable, createLogLinesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordExecution upserts the execution history row for e.
func (s *SQLiteStore) RecordExecution(ctx context.Context, e *model.StatusEntry) error {
	var success *bool
	var errMsg, reportPath string
	if e.Outcome != nil {
		success = &e.Outcome.Success
		errMsg = e.Outcome.Error
		reportPath = e.Outcome.ReportPath
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, kind, status, success, error, report_path,
			created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			success = excluded.success,
			error = excluded.error,
			report_path = excluded.report_path,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		e.ID, e.Kind, e.Status, success, errMsg, reportPath,
		e.CreatedAt, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution history row by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.StatusEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, success, error, report_path,
			created_at, started_at, finished_at
		FROM executions WHERE id = ?`, id,
	)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns a paginated list of executions ordered by created_at
// DESC, along with the total count.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.StatusEntry, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, kind, status, success, error, report_path,
			created_at, started_at, finished_at
		FROM executions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*model.StatusEntry
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return out, total, nil
}

// GetStats returns aggregate execution statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{CountByKind: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM executions GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG((julianday(finished_at) - julianday(started_at)) * 86400000.0), 0)
		FROM executions WHERE finished_at IS NOT NULL`,
	).Scan(&stats.CountSuccess, &stats.CountFailed, &stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}

	return stats, nil
}

// RecordReport upserts report metadata for an entity.
func (s *SQLiteStore) RecordReport(ctx context.Context, entityID, entityKind, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (entity_id, entity_kind, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_kind = excluded.entity_kind,
			path = excluded.path`,
		entityID, entityKind, path, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	return nil
}

// GetReport retrieves report metadata for an entity.
func (s *SQLiteStore) GetReport(ctx context.Context, entityID string) (*ReportRecord, error) {
	r := &ReportRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT entity_id, entity_kind, path FROM reports WHERE entity_id = ?", entityID,
	).Scan(&r.EntityID, &r.EntityKind, &r.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// InsertLogLine appends one output line for an execution.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, executionID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (execution_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		executionID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns all persisted output lines for an execution in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, executionID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, seq, line, created_at
		FROM log_lines WHERE execution_id = ? ORDER BY seq ASC`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []model.LogLine
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}

// scanner abstracts sql.Row and sql.Rows for scanExecution.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*model.StatusEntry, error) {
	e := &model.StatusEntry{}
	var success *bool
	var errMsg, reportPath sql.NullString
	if err := row.Scan(
		&e.ID, &e.Kind, &e.Status, &success, &errMsg, &reportPath,
		&e.CreatedAt, &e.StartedAt, &e.FinishedAt,
	); err != nil {
		return nil, err
	}
	if success != nil {
		e.Outcome = &model.Outcome{
			Success:    *success,
			Error:      errMsg.String,
			ReportPath: reportPath.String,
		}
	}
	return e, nil
}
