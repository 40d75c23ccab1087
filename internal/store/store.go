package store

import (
	"context"
	"errors"

	"github.com/seantiz/proctor/internal/model"
)

// ErrNotFound is returned when an execution record is not found.
var ErrNotFound = errors.New("execution not found")

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int            `json:"total"`
	CountByKind   map[string]int `json:"count_by_kind"`
	CountSuccess  int            `json:"count_success"`
	CountFailed   int            `json:"count_failed"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// ReportRecord is one persisted report-metadata row.
type ReportRecord struct {
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	Path       string `json:"path"`
}

// Store defines the metadata persistence operations: completed-execution
// history, report metadata, and log lines. Engine writes are best-effort; a
// store failure never fails an execution.
type Store interface {
	Ping(ctx context.Context) error
	RecordExecution(ctx context.Context, e *model.StatusEntry) error
	GetExecution(ctx context.Context, id string) (*model.StatusEntry, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.StatusEntry, int, error)
	GetStats(ctx context.Context) (*ExecutionStats, error)
	RecordReport(ctx context.Context, entityID, entityKind, path string) error
	GetReport(ctx context.Context, entityID string) (*ReportRecord, error)
	InsertLogLine(ctx context.Context, executionID string, seq int, line string) error
	GetLogLines(ctx context.Context, executionID string) ([]model.LogLine, error)
	Close() error
}
