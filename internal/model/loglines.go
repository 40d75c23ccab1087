package model

import "time"

// LogLine represents a single persisted output line from an execution.
type LogLine struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}
