package model

import (
	"path"
	"time"

	"github.com/oklog/ulid/v2"
)

// Execution status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Execution kind constants. Scripts run alone; jobs bundle an ordered set of
// scripts into one process invocation with one combined report.
const (
	KindScript = "script"
	KindJob    = "job"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Pending may go straight to completed for executions that never spawn a
// process (validation rejects, duplicate submissions).
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCompleted: true,
	},
	StatusRunning: {
		StatusCompleted: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// NewID generates a new ULID string for use as an execution identifier.
func NewID() string {
	return ulid.Make().String()
}

// Script is one user-authored browser-automation script.
type Script struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// ExecutionTask describes one requested execution. It is immutable once
// enqueued; workers operate on their own copy.
type ExecutionTask struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Scripts   []Script  `json:"scripts"`
	TimeoutS  *int      `json:"timeout_s,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome holds the terminal result of an execution. It is populated only
// when the owning StatusEntry reaches completed.
type Outcome struct {
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	ReportPath string     `json:"report_path,omitempty"`
	Job        *JobResult `json:"job,omitempty"`
}

// StatusEntry is the current lifecycle state of one execution. A single
// worker owns the entry for the execution's whole lifetime; readers may poll
// it concurrently.
type StatusEntry struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Outcome    *Outcome   `json:"outcome,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ScriptVerdict is the per-script pass/fail derived from a job's combined
// output. Heuristic is true when the verdict came from the filename marker
// scan rather than a structured report.
type ScriptVerdict struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Heuristic bool   `json:"heuristic"`
}

// JobResult aggregates per-script verdicts for one job execution. Success is
// true only if the process exited cleanly and every verdict passed.
type JobResult struct {
	JobID     string          `json:"job_id"`
	Success   bool            `json:"success"`
	Scripts   []ScriptVerdict `json:"scripts"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// ReportRelPath returns the stable report location for an execution, relative
// to the reports root: {kind}/{id}/report/index.html.
func ReportRelPath(kind, id string) string {
	return path.Join(kind, id, "report", "index.html")
}

// ReportDir returns the directory portion of the report location, relative to
// the reports root.
func ReportDir(kind, id string) string {
	return path.Join(kind, id, "report")
}
