// Package report guarantees that every completed execution has a retrievable
// HTML report at its stable location, synthesizing a minimal fallback when
// the tool did not produce one.
package report

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/seantiz/proctor/internal/model"
	"github.com/seantiz/proctor/internal/runner"
)

// indexFile is the report entry point the tool is expected to produce.
const indexFile = "index.html"

// Recorder persists report metadata. Failures are logged, never propagated.
type Recorder interface {
	RecordReport(ctx context.Context, entityID, entityKind, path string) error
}

// Assembler finalizes report artifacts under a single reports root. Report
// locations follow {kind}/{id}/report/index.html relative to that root.
type Assembler struct {
	root     string
	recorder Recorder
	logger   *slog.Logger
}

// NewAssembler creates an assembler writing beneath root.
func NewAssembler(root string, recorder Recorder, logger *slog.Logger) *Assembler {
	return &Assembler{
		root:     root,
		recorder: recorder,
		logger:   logger,
	}
}

// ReportDir returns the absolute report directory for an execution.
func (a *Assembler) ReportDir(kind, id string) string {
	return filepath.Join(a.root, model.ReportDir(kind, id))
}

// EnsureReport returns the stable report location for the execution,
// synthesizing a fallback report when the expected file is absent. The
// returned path is relative to the reports root.
func (a *Assembler) EnsureReport(ctx context.Context, kind, id string, outcome runner.ProcessOutcome) (string, error) {
	dir := a.ReportDir(kind, id)
	rel := model.ReportRelPath(kind, id)

	if _, err := os.Stat(filepath.Join(dir, indexFile)); err == nil {
		a.record(ctx, kind, id, rel)
		return rel, nil
	}

	if err := a.synthesize(dir, kind, id, outcome); err != nil {
		return "", fmt.Errorf("synthesize report: %w", err)
	}
	a.logger.Info("synthesized fallback report", "execution_id", id, "kind", kind, "class", outcome.Class)
	a.record(ctx, kind, id, rel)
	return rel, nil
}

// record stores report metadata best-effort.
func (a *Assembler) record(ctx context.Context, kind, id, rel string) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.RecordReport(ctx, id, kind, rel); err != nil {
		a.logger.Warn("record report metadata failed", "execution_id", id, "error", err)
	}
}

// synthesize writes the fallback report embedding captured output and the
// outcome classification.
func (a *Assembler) synthesize(dir, kind, id string, outcome runner.ProcessOutcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, indexFile))
	if err != nil {
		return fmt.Errorf("create %s: %w", indexFile, err)
	}
	defer f.Close()

	data := fallbackData{
		ID:          id,
		Kind:        kind,
		Class:       outcome.Class,
		ExitCode:    outcome.ExitCode,
		Error:       outcome.Err,
		Stdout:      outcome.Stdout,
		Stderr:      outcome.Stderr,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := fallbackTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}
	return nil
}

type fallbackData struct {
	ID          string
	Kind        string
	Class       string
	ExitCode    int
	Error       string
	Stdout      []string
	Stderr      []string
	GeneratedAt string
}

// fallbackTemplate is deliberately bare-bones so synthesized reports are easy
// to tell apart from tool-generated ones.
var fallbackTemplate = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Execution {{.ID}} — fallback report</title>
<style>
body { font-family: monospace; margin: 2rem; background: #fffbe6; }
h1 { font-size: 1.2rem; }
.banner { background: #ffe58f; padding: 0.5rem 1rem; border: 1px solid #d4b106; }
pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
dt { font-weight: bold; }
</style>
</head>
<body>
<div class="banner">Fallback report — the execution tool did not produce its own report.</div>
<h1>Execution {{.ID}} ({{.Kind}})</h1>
<dl>
<dt>Outcome</dt><dd>{{.Class}}</dd>
<dt>Exit code</dt><dd>{{.ExitCode}}</dd>
{{if .Error}}<dt>Error</dt><dd>{{.Error}}</dd>{{end}}
<dt>Generated</dt><dd>{{.GeneratedAt}}</dd>
</dl>
<h2>stdout</h2>
<pre>{{range .Stdout}}{{.}}
{{end}}</pre>
<h2>stderr</h2>
<pre>{{range .Stderr}}{{.}}
{{end}}</pre>
</body>
</html>
`))
