package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seantiz/proctor/internal/artifact"
	"github.com/seantiz/proctor/internal/model"
	"github.com/seantiz/proctor/internal/report"
	"github.com/seantiz/proctor/internal/runner"
	"github.com/seantiz/proctor/internal/status"
	"github.com/seantiz/proctor/internal/store"
)

// Default pool sizes and timeouts. Jobs get the smaller pool: one job fans a
// whole script set into a single process, so its per-unit resource cost is
// higher.
const (
	DefaultScriptWorkers = 4
	DefaultJobWorkers    = 2
	DefaultScriptTimeout = 5 * time.Minute
	DefaultJobTimeout    = 15 * time.Minute
	DefaultRetention     = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

// Sentinel errors surfaced to callers.
var (
	// ErrNotFound is returned by Await and GetStatus for unknown identifiers.
	ErrNotFound = errors.New("execution not found")

	// ErrAwaitTimeout means the caller-side wait expired. The execution
	// itself keeps running; this is distinct from an execution-side timeout.
	ErrAwaitTimeout = errors.New("await timed out")

	// ErrDuplicateSubmission is the soft rejection for a job id re-submitted
	// within the duplicate-tracking window.
	ErrDuplicateSubmission = errors.New("job already executed")
)

// ScriptRunner executes one script set as a supervised child process.
type ScriptRunner interface {
	Run(ctx context.Context, spec runner.Spec) (runner.ProcessOutcome, error)
}

// Validator statically checks a script source before execution.
type Validator interface {
	Validate(source string) error
}

// Config holds engine tuning knobs.
type Config struct {
	ScriptWorkers int
	JobWorkers    int
	ScriptTimeout time.Duration
	JobTimeout    time.Duration
	WorkDir       string
	Retention     time.Duration
	DedupWindow   time.Duration
	SweepSchedule string
}

// withDefaults fills in zero-valued fields.
func (c Config) withDefaults() Config {
	if c.ScriptWorkers <= 0 {
		c.ScriptWorkers = DefaultScriptWorkers
	}
	if c.JobWorkers <= 0 {
		c.JobWorkers = DefaultJobWorkers
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = DefaultScriptTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
	return c
}

// Engine orchestrates execution of untrusted browser-automation scripts:
// admission, bounded concurrency, process supervision, status tracking, and
// report finalization.
type Engine struct {
	cfg       Config
	tracker   *status.Tracker
	store     store.Store
	artifacts artifact.Store
	assembler *report.Assembler
	runner    ScriptRunner
	validator Validator
	logger    *slog.Logger
	broker    *LogBroker
	guard     *DuplicateGuard

	scriptPool *Pool
	jobPool    *Pool

	cron *cron.Cron
	wg   sync.WaitGroup

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewEngine creates an execution engine. All collaborators are injected so
// tests can substitute in-memory implementations.
func NewEngine(cfg Config, tracker *status.Tracker, st store.Store, artifacts artifact.Store, assembler *report.Assembler, r ScriptRunner, v Validator, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:       cfg,
		tracker:   tracker,
		store:     st,
		artifacts: artifacts,
		assembler: assembler,
		runner:    r,
		validator: v,
		logger:    logger,
		broker:    NewLogBroker(),
		guard:     NewDuplicateGuard(cfg.DedupWindow, DefaultDedupCapacity),
		waiters:   make(map[string]chan struct{}),
	}

	e.scriptPool = NewPool("scripts", cfg.ScriptWorkers, e.ensureWorkDir, e.runScript, e.finishPanicked)
	e.jobPool = NewPool("jobs", cfg.JobWorkers, e.ensureWorkDir, e.runJob, e.finishPanicked)
	return e
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// ensureWorkDir is the pool startup hook: the scratch directory for
// materialized scripts must exist before any worker runs.
func (e *Engine) ensureWorkDir() error {
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return nil
}

// SubmitScript admits a single script for execution and returns its
// identifier immediately. A validation reject still yields an identifier: the
// execution completes at once with success=false and a synthesized report.
// A non-nil timeoutS overrides the configured script timeout.
func (e *Engine) SubmitScript(ctx context.Context, name, source string, timeoutS *int) (string, error) {
	task := &model.ExecutionTask{
		ID:        model.NewID(),
		Kind:      model.KindScript,
		Scripts:   []model.Script{{Name: name, Source: source}},
		TimeoutS:  timeoutS,
		CreatedAt: time.Now().UTC(),
	}
	e.admit(task)

	if err := e.validator.Validate(source); err != nil {
		e.finishRejected(task, fmt.Sprintf("validation failed: %v", err))
		return task.ID, nil
	}

	if err := e.scriptPool.Submit(task); err != nil {
		e.abandon(task)
		return "", err
	}
	return task.ID, nil
}

// SubmitJob admits an ordered script set as one execution unit keyed by the
// caller-provided job identifier. Re-submission of the same identifier within
// the duplicate-tracking window returns ErrDuplicateSubmission without
// touching the filesystem or spawning a process. A non-nil timeoutS
// overrides the configured job timeout.
func (e *Engine) SubmitJob(ctx context.Context, jobID string, scripts []model.Script, timeoutS *int) (string, error) {
	if jobID == "" {
		return "", errors.New("job id is required")
	}
	if len(scripts) == 0 {
		return "", errors.New("job has no scripts")
	}

	if !e.guard.Begin(jobID) {
		duplicateSubmissions.Inc()
		e.logger.Info("duplicate job submission rejected", "job_id", jobID)
		return jobID, ErrDuplicateSubmission
	}

	task := &model.ExecutionTask{
		ID:        jobID,
		Kind:      model.KindJob,
		Scripts:   scripts,
		TimeoutS:  timeoutS,
		CreatedAt: time.Now().UTC(),
	}
	e.admit(task)

	for _, s := range scripts {
		if err := e.validator.Validate(s.Source); err != nil {
			e.finishRejected(task, fmt.Sprintf("validation failed for %s: %v", s.Name, err))
			return jobID, nil
		}
	}

	if err := e.jobPool.Submit(task); err != nil {
		e.abandon(task)
		return "", err
	}
	return jobID, nil
}

// GetStatus returns the current status entry for an execution.
func (e *Engine) GetStatus(id string) (*model.StatusEntry, error) {
	entry, ok := e.tracker.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Await blocks until the execution completes or the timeout expires. The
// timeout here is caller-side patience; it does not cancel the execution.
func (e *Engine) Await(ctx context.Context, id string, timeout time.Duration) (*model.StatusEntry, error) {
	entry, ok := e.tracker.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Status == model.StatusCompleted {
		return entry, nil
	}

	e.mu.Lock()
	done := e.waiters[id]
	e.mu.Unlock()
	if done == nil {
		// Completed between the status check and the waiter lookup.
		entry, ok := e.tracker.Get(id)
		if !ok {
			return nil, ErrNotFound
		}
		return entry, nil
	}

	select {
	case <-done:
		entry, ok := e.tracker.Get(id)
		if !ok {
			return nil, ErrNotFound
		}
		return entry, nil
	case <-time.After(timeout):
		return nil, ErrAwaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartSweeper launches the periodic retention sweep. Swept executions also
// release their log-broker topics.
func (e *Engine) StartSweeper() error {
	c := cron.New()
	_, err := c.AddFunc(e.cfg.SweepSchedule, func() {
		removed := e.tracker.Sweep(e.cfg.Retention)
		for _, id := range removed {
			e.broker.Forget(id)
		}
		if len(removed) > 0 {
			e.logger.Debug("swept completed executions", "count", len(removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	e.cron = c
	return nil
}

// Close stops the sweeper and waits for in-flight artifact uploads.
func (e *Engine) Close() {
	if e.cron != nil {
		e.cron.Stop()
	}
	e.wg.Wait()
}

// admit registers a pending status entry and completion signal for a task.
func (e *Engine) admit(task *model.ExecutionTask) {
	entry := &model.StatusEntry{
		ID:        task.ID,
		Kind:      task.Kind,
		Status:    model.StatusPending,
		CreatedAt: task.CreatedAt,
	}
	e.tracker.Set(entry)
	e.tracker.MarkActive(task.ID)

	e.mu.Lock()
	e.waiters[task.ID] = make(chan struct{})
	e.mu.Unlock()
}

// abandon rolls back admission when the pool rejected the task. The queue
// error propagates to the submitting caller; the entry must not linger as
// forever-pending.
func (e *Engine) abandon(task *model.ExecutionTask) {
	e.tracker.MarkDone(task.ID)
	if task.Kind == model.KindJob {
		e.guard.Complete(task.ID)
	}

	e.mu.Lock()
	done := e.waiters[task.ID]
	delete(e.waiters, task.ID)
	e.mu.Unlock()
	if done != nil {
		close(done)
	}

	now := time.Now().UTC()
	e.tracker.Set(&model.StatusEntry{
		ID:         task.ID,
		Kind:       task.Kind,
		Status:     model.StatusCompleted,
		CreatedAt:  task.CreatedAt,
		FinishedAt: &now,
		Outcome:    &model.Outcome{Success: false, Error: "queue unavailable"},
	})
}

// runScript is the worker handler for single-script executions.
func (e *Engine) runScript(task *model.ExecutionTask) {
	entry := e.setRunning(task)

	scratch := filepath.Join(e.cfg.WorkDir, model.KindScript, task.ID)
	defer os.RemoveAll(scratch)

	paths, err := materializeScripts(scratch, task.Scripts)
	if err != nil {
		e.finish(task, entry, e.internalFailure(task, err), nil)
		return
	}

	outcome := e.invoke(task, paths, e.cfg.ScriptTimeout)
	e.finish(task, entry, outcome, nil)
}

// runJob is the worker handler for multi-script jobs: one process per job,
// verdicts decomposed from the combined output afterwards.
func (e *Engine) runJob(task *model.ExecutionTask) {
	entry := e.setRunning(task)

	scratch := filepath.Join(e.cfg.WorkDir, model.KindJob, task.ID)
	defer os.RemoveAll(scratch)

	paths, err := materializeScripts(scratch, task.Scripts)
	if err != nil {
		e.finish(task, entry, e.internalFailure(task, err), nil)
		return
	}

	outcome := e.invoke(task, paths, e.cfg.JobTimeout)

	verdicts := deriveVerdicts(outcome, paths, task.Scripts)
	allPassed := true
	for _, v := range verdicts {
		if !v.Passed {
			allPassed = false
		}
	}
	jobResult := &model.JobResult{
		JobID:   task.ID,
		Success: outcome.Success() && allPassed,
		Scripts: verdicts,
	}
	e.finish(task, entry, outcome, jobResult)
}

// invoke runs the materialized script set through the process runner with the
// dual-write log pipeline: each line is persisted for historical viewing and
// published for live streaming.
func (e *Engine) invoke(task *model.ExecutionTask, paths []string, timeout time.Duration) runner.ProcessOutcome {
	if task.TimeoutS != nil && *task.TimeoutS > 0 {
		timeout = time.Duration(*task.TimeoutS) * time.Second
	}

	ctx := context.Background()
	var seq atomic.Int32
	spec := runner.Spec{
		ExecutionID: task.ID,
		ScriptPaths: paths,
		ReportDir:   e.assembler.ReportDir(task.Kind, task.ID),
		Timeout:     timeout,
		LogWriter: func(line string) {
			currentSeq := int(seq.Add(1) - 1)
			if err := e.store.InsertLogLine(ctx, task.ID, currentSeq, line); err != nil {
				e.logger.Error("persist log line", "execution_id", task.ID, "seq", currentSeq, "error", err)
			}
			e.broker.Publish(task.ID, line)
		},
	}

	outcome, err := e.runner.Run(ctx, spec)
	if err != nil {
		return e.internalFailure(task, err)
	}
	return outcome
}

// setRunning transitions the entry to running and marks the worker as owner.
func (e *Engine) setRunning(task *model.ExecutionTask) *model.StatusEntry {
	activeExecutions.Inc()
	now := time.Now().UTC()
	entry := &model.StatusEntry{
		ID:        task.ID,
		Kind:      task.Kind,
		Status:    model.StatusRunning,
		CreatedAt: task.CreatedAt,
		StartedAt: &now,
	}
	e.tracker.Set(entry)
	return entry
}

// finish completes an execution: the report is finalized (synthesized when
// absent), the status entry reaches completed with success defined, metadata
// is persisted best-effort, and successful runs upload their report bundle.
func (e *Engine) finish(task *model.ExecutionTask, running *model.StatusEntry, outcome runner.ProcessOutcome, jobResult *model.JobResult) {
	defer activeExecutions.Dec()
	ctx := context.Background()

	reportPath, err := e.assembler.EnsureReport(ctx, task.Kind, task.ID, outcome)
	if err != nil {
		e.logger.Error("finalize report", "execution_id", task.ID, "error", err)
	}

	success := outcome.Success()
	errMsg := outcome.Err
	if jobResult != nil {
		success = jobResult.Success
		if errMsg == "" && !success {
			failed := 0
			for _, v := range jobResult.Scripts {
				if !v.Passed {
					failed++
				}
			}
			errMsg = fmt.Sprintf("%d of %d scripts failed", failed, len(jobResult.Scripts))
		}
	}

	now := time.Now().UTC()
	completed := &model.StatusEntry{
		ID:         task.ID,
		Kind:       task.Kind,
		Status:     model.StatusCompleted,
		CreatedAt:  task.CreatedAt,
		StartedAt:  running.StartedAt,
		FinishedAt: &now,
		Outcome: &model.Outcome{
			Success:    success,
			Error:      errMsg,
			ReportPath: reportPath,
			Job:        jobResult,
		},
	}
	e.complete(task, completed)

	if running.StartedAt != nil {
		executionDuration.WithLabelValues(task.Kind).Observe(now.Sub(*running.StartedAt).Seconds())
	}

	if success {
		e.uploadArtifacts(task)
	}
}

// finishRejected completes a validation-rejected execution. Rejects look
// exactly like script failures to callers: completed, success=false, and a
// synthesized failing report.
func (e *Engine) finishRejected(task *model.ExecutionTask, msg string) {
	ctx := context.Background()
	outcome := runner.ProcessOutcome{
		Class:    runner.ClassNonZeroExit,
		ExitCode: -1,
		Err:      msg,
		Stderr:   []string{msg},
	}
	reportPath, err := e.assembler.EnsureReport(ctx, task.Kind, task.ID, outcome)
	if err != nil {
		e.logger.Error("finalize rejection report", "execution_id", task.ID, "error", err)
	}

	now := time.Now().UTC()
	e.complete(task, &model.StatusEntry{
		ID:         task.ID,
		Kind:       task.Kind,
		Status:     model.StatusCompleted,
		CreatedAt:  task.CreatedAt,
		FinishedAt: &now,
		Outcome: &model.Outcome{
			Success:    false,
			Error:      msg,
			ReportPath: reportPath,
		},
	})
}

// finishPanicked converts a worker panic into a completed failure so one
// stuck execution never wedges the pool.
func (e *Engine) finishPanicked(task *model.ExecutionTask, recovered any) {
	e.logger.Error("execution panicked", "execution_id", task.ID, "panic", recovered)
	running, _ := e.tracker.Get(task.ID)
	if running == nil {
		running = &model.StatusEntry{ID: task.ID, Kind: task.Kind, CreatedAt: task.CreatedAt}
	}
	outcome := runner.ProcessOutcome{
		Class:    runner.ClassSpawnError,
		ExitCode: -1,
		Err:      fmt.Sprintf("internal error: %v", recovered),
	}
	e.finish(task, running, outcome, nil)
}

// internalFailure builds the outcome for failures inside the engine itself
// (scratch dir, runner invariants), distinct from script-authored failures.
func (e *Engine) internalFailure(task *model.ExecutionTask, err error) runner.ProcessOutcome {
	e.logger.Error("execution setup failed", "execution_id", task.ID, "error", err)
	return runner.ProcessOutcome{
		Class:    runner.ClassSpawnError,
		ExitCode: -1,
		Err:      err.Error(),
	}
}

// complete writes the terminal status entry and releases everything waiting
// on the execution.
func (e *Engine) complete(task *model.ExecutionTask, entry *model.StatusEntry) {
	if existing, ok := e.tracker.Get(task.ID); ok && !model.ValidTransition(existing.Status, entry.Status) {
		e.logger.Warn("ignoring invalid status transition",
			"execution_id", task.ID, "from", existing.Status, "to", entry.Status)
		return
	}
	e.tracker.Set(entry)
	e.tracker.MarkDone(task.ID)

	if err := e.store.RecordExecution(context.Background(), entry); err != nil {
		e.logger.Warn("persist execution record", "execution_id", task.ID, "error", err)
	}

	result := "failure"
	if entry.Outcome != nil && entry.Outcome.Success {
		result = "success"
	}
	executionsTotal.WithLabelValues(task.Kind, result).Inc()

	if task.Kind == model.KindJob {
		e.guard.Complete(task.ID)
	}

	e.mu.Lock()
	done := e.waiters[task.ID]
	delete(e.waiters, task.ID)
	e.mu.Unlock()
	if done != nil {
		close(done)
	}

	e.broker.Close(task.ID)
}

// uploadArtifacts pushes the report bundle to long-term storage. Best-effort:
// completion never blocks on the upload and failures are only logged.
func (e *Engine) uploadArtifacts(task *model.ExecutionTask) {
	dir := e.assembler.ReportDir(task.Kind, task.ID)
	key := task.Kind + "/" + task.ID

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := e.artifacts.Upload(ctx, dir, key); err != nil {
			e.logger.Warn("artifact upload failed", "execution_id", task.ID, "error", err)
		}
	}()
}
