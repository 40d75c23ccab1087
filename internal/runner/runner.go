// Package runner spawns one OS process per execution attempt, streams its
// output into bounded buffers, enforces a hard wall-clock timeout, and
// classifies the outcome.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome classification constants.
const (
	ClassSuccess     = "success"
	ClassNonZeroExit = "nonzero_exit"
	ClassTimeout     = "timeout"
	ClassSpawnError  = "spawn_error"
)

// DefaultTimeout is the wall-clock limit applied when a spec carries none.
const DefaultTimeout = 15 * time.Minute

// killWaitDelay is how long Wait allows the process group to exit after a
// kill before abandoning the pipes.
const killWaitDelay = 5 * time.Second

// traceDirName is the subdirectory the browser tool writes traces into.
// Scripts racing on its creation is a known transient failure mode.
const traceDirName = "trace"

// Spec describes one process invocation.
type Spec struct {
	ExecutionID string
	ScriptPaths []string
	ReportDir   string
	Env         map[string]string
	Timeout     time.Duration

	// LogWriter, when set, receives each output line as it is produced.
	LogWriter func(line string)
}

// ProcessOutcome is the classified result of one process invocation. Stdout
// and Stderr hold the bounded tail of each stream.
type ProcessOutcome struct {
	Class      string
	ExitCode   int
	Stdout     []string
	Stderr     []string
	ReportDir  string
	Err        string
	DurationMS int
}

// Success reports whether the process exited cleanly.
func (o ProcessOutcome) Success() bool {
	return o.Class == ClassSuccess
}

// Runner executes scripts with a configured tool binary. The spawned command
// is bin + baseArgs + script paths, with PROCTOR_REPORT_DIR pointing the tool
// at its report directory.
type Runner struct {
	bin       string
	baseArgs  []string
	maxChunks int
	logger    *slog.Logger
}

// New creates a runner for the given tool binary.
func New(bin string, baseArgs []string, maxChunks int, logger *slog.Logger) *Runner {
	return &Runner{
		bin:       bin,
		baseArgs:  baseArgs,
		maxChunks: maxChunks,
		logger:    logger,
	}
}

// Run executes one script set as a single child process. It always returns a
// classified outcome; the error return is reserved for invalid specs.
func (r *Runner) Run(ctx context.Context, spec Spec) (ProcessOutcome, error) {
	if len(spec.ScriptPaths) == 0 {
		return ProcessOutcome{}, errors.New("no script paths")
	}

	// The report directory must exist before the tool starts writing into it.
	if err := os.MkdirAll(spec.ReportDir, 0o755); err != nil {
		return ProcessOutcome{}, fmt.Errorf("create report dir: %w", err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, r.baseArgs...), spec.ScriptPaths...)
	cmd := exec.CommandContext(ctx, r.bin, args...) // #nosec G204

	cmd.Env = append(os.Environ(), "PROCTOR_REPORT_DIR="+spec.ReportDir)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Run the child in its own process group so a timeout kill takes the
	// whole tree (browser subprocesses included) with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return r.spawnError(spec, fmt.Sprintf("stdout pipe: %v", err)), nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return r.spawnError(spec, fmt.Sprintf("stderr pipe: %v", err)), nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return r.spawnError(spec, fmt.Sprintf("start %s: %v", r.bin, err)), nil
	}
	activeProcesses.Inc()
	defer activeProcesses.Dec()

	stdoutBuf := NewOutputBuffer(r.maxChunks)
	stderrBuf := NewOutputBuffer(r.maxChunks)

	var g errgroup.Group
	g.Go(func() error {
		r.streamLines(spec, stdoutPipe, stdoutBuf)
		return nil
	})
	g.Go(func() error {
		r.streamLines(spec, stderrPipe, stderrBuf)
		return nil
	})
	_ = g.Wait()

	waitErr := cmd.Wait()
	durationMS := int(time.Since(start).Milliseconds())
	processDuration.Observe(time.Since(start).Seconds())

	outcome := ProcessOutcome{
		Class:      ClassSuccess,
		Stdout:     stdoutBuf.Lines(),
		Stderr:     stderrBuf.Lines(),
		ReportDir:  spec.ReportDir,
		DurationMS: durationMS,
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		outcome.Class = ClassTimeout
		outcome.ExitCode = -1
		outcome.Err = fmt.Sprintf("execution timed out after %s", timeout)
	case waitErr == nil:
		outcome.ExitCode = 0
	default:
		outcome.Class = ClassNonZeroExit
		outcome.Err = waitErr.Error()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -1
		}
		r.recoverTraceDir(spec, stderrBuf)
	}

	processOutcomes.WithLabelValues(outcome.Class).Inc()
	r.logger.Info("process finished",
		"execution_id", spec.ExecutionID,
		"class", outcome.Class,
		"exit_code", outcome.ExitCode,
		"duration_ms", durationMS,
	)
	return outcome, nil
}

// spawnError builds the outcome for a process that could not start. Callers
// must be able to tell "could not even start" from "ran and failed".
func (r *Runner) spawnError(spec Spec, msg string) ProcessOutcome {
	processOutcomes.WithLabelValues(ClassSpawnError).Inc()
	r.logger.Error("spawn failed", "execution_id", spec.ExecutionID, "error", msg)
	return ProcessOutcome{
		Class:     ClassSpawnError,
		ExitCode:  -1,
		ReportDir: spec.ReportDir,
		Err:       msg,
	}
}

// streamLines feeds each output line to the log writer and the bounded buffer.
func (r *Runner) streamLines(spec Spec, pipe io.Reader, buf *OutputBuffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.Append(line)
		if spec.LogWriter != nil {
			spec.LogWriter(line)
		}
		r.logger.Debug("script output", "execution_id", spec.ExecutionID, "line", line)
	}
}

// recoverTraceDir checks stderr for the known transient trace-directory race
// and recreates the directory so future attempts do not hit it. The current
// execution is not retried.
func (r *Runner) recoverTraceDir(spec Spec, stderrBuf *OutputBuffer) {
	stderr := stderrBuf.String()
	if !strings.Contains(stderr, "no such file or directory") || !strings.Contains(stderr, traceDirName) {
		return
	}
	traceDir := filepath.Join(spec.ReportDir, traceDirName)
	if err := os.MkdirAll(traceDir, 0o755); err != nil {
		r.logger.Warn("trace dir recovery failed", "execution_id", spec.ExecutionID, "error", err)
		return
	}
	r.logger.Info("recreated missing trace dir", "execution_id", spec.ExecutionID, "dir", traceDir)
}
