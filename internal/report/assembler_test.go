package report

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seantiz/proctor/internal/model"
	"github.com/seantiz/proctor/internal/runner"
)

// recordingRecorder captures RecordReport calls.
type recordingRecorder struct {
	calls []string
}

func (r *recordingRecorder) RecordReport(_ context.Context, entityID, entityKind, path string) error {
	r.calls = append(r.calls, entityID+"|"+entityKind+"|"+path)
	return nil
}

func newTestAssembler(t *testing.T) (*Assembler, *recordingRecorder, string) {
	t.Helper()
	root := t.TempDir()
	rec := &recordingRecorder{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewAssembler(root, rec, logger), rec, root
}

func TestEnsureReportKeepsToolReport(t *testing.T) {
	a, rec, root := newTestAssembler(t)

	dir := a.ReportDir(model.KindScript, "e1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	toolHTML := "<html><body>tool report</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(toolHTML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rel, err := a.EnsureReport(context.Background(), model.KindScript, "e1", runner.ProcessOutcome{Class: runner.ClassSuccess})
	if err != nil {
		t.Fatalf("EnsureReport: %v", err)
	}
	if rel != "script/e1/report/index.html" {
		t.Errorf("rel path = %q, want stable location", rel)
	}

	// The tool's own report must not be overwritten.
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != toolHTML {
		t.Error("tool report was overwritten")
	}

	if len(rec.calls) != 1 || rec.calls[0] != "e1|script|"+rel {
		t.Errorf("recorder calls = %v, want one for e1", rec.calls)
	}
}

func TestEnsureReportSynthesizesFallback(t *testing.T) {
	a, _, root := newTestAssembler(t)

	outcome := runner.ProcessOutcome{
		Class:    runner.ClassNonZeroExit,
		ExitCode: 2,
		Err:      "script failed",
		Stdout:   []string{"step one"},
		Stderr:   []string{"boom"},
	}
	rel, err := a.EnsureReport(context.Background(), model.KindJob, "j1", outcome)
	if err != nil {
		t.Fatalf("EnsureReport: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("fallback report missing: %v", err)
	}
	html := string(data)

	for _, want := range []string{"Fallback report", "j1", "nonzero_exit", "script failed", "step one", "boom"} {
		if !strings.Contains(html, want) {
			t.Errorf("fallback report missing %q", want)
		}
	}
}

func TestEnsureReportEscapesScriptOutput(t *testing.T) {
	a, _, root := newTestAssembler(t)

	outcome := runner.ProcessOutcome{
		Class:  runner.ClassNonZeroExit,
		Stdout: []string{`<script>alert("xss")</script>`},
	}
	rel, err := a.EnsureReport(context.Background(), model.KindScript, "e2", outcome)
	if err != nil {
		t.Fatalf("EnsureReport: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), `<script>alert`) {
		t.Error("script output must be HTML-escaped in the fallback report")
	}
}

func TestEnsureReportNilRecorder(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a := NewAssembler(root, nil, logger)

	if _, err := a.EnsureReport(context.Background(), model.KindScript, "e3", runner.ProcessOutcome{}); err != nil {
		t.Fatalf("EnsureReport with nil recorder: %v", err)
	}
}

func TestReportDirLayout(t *testing.T) {
	a, _, root := newTestAssembler(t)
	got := a.ReportDir(model.KindJob, "abc")
	want := filepath.Join(root, "job", "abc", "report")
	if got != want {
		t.Errorf("ReportDir = %q, want %q", got, want)
	}
}
