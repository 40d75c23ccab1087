package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// writeScript writes a shell script and returns its path. The runner treats
// the tool binary as opaque, so tests drive it with sh.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func testSpec(t *testing.T, scriptPath string) Spec {
	t.Helper()
	return Spec{
		ExecutionID: "test-exec",
		ScriptPaths: []string{scriptPath},
		ReportDir:   filepath.Join(t.TempDir(), "report"),
	}
}

func TestRunSuccess(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, `echo hello
echo oops >&2`)

	outcome, err := r.Run(context.Background(), testSpec(t, script))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Class != ClassSuccess {
		t.Errorf("class = %q, want success", outcome.Class)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", outcome.ExitCode)
	}
	if !slices.Contains(outcome.Stdout, "hello") {
		t.Errorf("stdout = %v, want hello", outcome.Stdout)
	}
	if !slices.Contains(outcome.Stderr, "oops") {
		t.Errorf("stderr = %v, want oops", outcome.Stderr)
	}
	if outcome.DurationMS < 0 {
		t.Errorf("duration_ms = %d, want >= 0", outcome.DurationMS)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, "exit 3")

	outcome, err := r.Run(context.Background(), testSpec(t, script))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Class != ClassNonZeroExit {
		t.Errorf("class = %q, want nonzero_exit", outcome.Class)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", outcome.ExitCode)
	}
	if outcome.Err == "" {
		t.Error("expected error message for nonzero exit")
	}
}

func TestRunTimeout(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, "sleep 5")

	spec := testSpec(t, script)
	spec.Timeout = 100 * time.Millisecond

	start := time.Now()
	outcome, err := r.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Class != ClassTimeout {
		t.Errorf("class = %q, want timeout", outcome.Class)
	}
	if !strings.Contains(outcome.Err, "timed out") {
		t.Errorf("error = %q, want timeout message", outcome.Err)
	}
	// The kill must be prompt, not waiting out the sleep.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %v, kill was not enforced", elapsed)
	}
}

func TestRunSpawnError(t *testing.T) {
	r := New("/nonexistent-tool-binary", nil, 16, testLogger())
	script := writeScript(t, "echo never")

	outcome, err := r.Run(context.Background(), testSpec(t, script))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Class != ClassSpawnError {
		t.Errorf("class = %q, want spawn_error", outcome.Class)
	}
	if outcome.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", outcome.ExitCode)
	}
	if outcome.Err == "" {
		t.Error("expected spawn error message")
	}
}

func TestRunNoScriptPaths(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	if _, err := r.Run(context.Background(), Spec{ReportDir: t.TempDir()}); err == nil {
		t.Error("Run with no script paths should return an error")
	}
}

func TestRunBoundsOutput(t *testing.T) {
	r := New("sh", nil, 4, testLogger())
	script := writeScript(t, `for i in 1 2 3 4 5 6 7 8 9 10; do echo "line $i"; done`)

	outcome, err := r.Run(context.Background(), testSpec(t, script))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(outcome.Stdout) != 4 {
		t.Fatalf("retained %d stdout lines, want 4", len(outcome.Stdout))
	}
	if outcome.Stdout[3] != "line 10" {
		t.Errorf("last line = %q, want line 10 (oldest evicted)", outcome.Stdout[3])
	}
}

func TestRunExposesReportDir(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, `echo "$PROCTOR_REPORT_DIR"`)

	spec := testSpec(t, script)
	outcome, err := r.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !slices.Contains(outcome.Stdout, spec.ReportDir) {
		t.Errorf("stdout = %v, want report dir %q", outcome.Stdout, spec.ReportDir)
	}
	if _, err := os.Stat(spec.ReportDir); err != nil {
		t.Errorf("report dir not created: %v", err)
	}
}

func TestRunStreamsToLogWriter(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, `echo one
echo two >&2`)

	var mu sync.Mutex
	var lines []string
	spec := testSpec(t, script)
	spec.LogWriter = func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	if _, err := r.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("log writer got %d lines, want 2", len(lines))
	}
	if !slices.Contains(lines, "one") || !slices.Contains(lines, "two") {
		t.Errorf("log writer lines = %v, want one and two", lines)
	}
}

func TestRunExtraEnv(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, `echo "$EXTRA_VAR"`)

	spec := testSpec(t, script)
	spec.Env = map[string]string{"EXTRA_VAR": "present"}

	outcome, err := r.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Contains(outcome.Stdout, "present") {
		t.Errorf("stdout = %v, want extra env value", outcome.Stdout)
	}
}

func TestRunRecoversTraceDir(t *testing.T) {
	r := New("sh", nil, 16, testLogger())
	script := writeScript(t, `echo "ENOENT: no such file or directory, open 'trace/trace.zip'" >&2
exit 1`)

	spec := testSpec(t, script)
	outcome, err := r.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Class != ClassNonZeroExit {
		t.Fatalf("class = %q, want nonzero_exit", outcome.Class)
	}
	// The known transient failure leaves the trace dir in place for the next run.
	if _, err := os.Stat(filepath.Join(spec.ReportDir, "trace")); err != nil {
		t.Errorf("trace dir not recreated: %v", err)
	}
}
