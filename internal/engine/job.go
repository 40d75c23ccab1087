package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/seantiz/proctor/internal/model"
	"github.com/seantiz/proctor/internal/runner"
)

// structuredResultsFile is the machine-readable per-script summary the tool
// writes alongside its report when supported. When present it is preferred
// over the stdout heuristic.
const structuredResultsFile = "results.json"

// failureMarkers are the tokens the stdout heuristic treats as evidence that
// the adjacent script failed.
var failureMarkers = []string{"FAIL", "FAILED", "✗", "✘", "Error:"}

// heuristicWindow is how many lines around a filename mention are inspected
// for failure markers.
const heuristicWindow = 1

// materializeScripts writes each script to its own file inside dir, in order.
// Returned paths preserve submission order; filenames are prefixed with the
// index so duplicate script names cannot collide.
func materializeScripts(dir string, scripts []model.Script) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create script dir: %w", err)
	}

	paths := make([]string, 0, len(scripts))
	for i, s := range scripts {
		name := filepath.Base(s.Name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "script.js"
		}
		if !strings.HasSuffix(name, ".js") {
			name += ".js"
		}
		p := filepath.Join(dir, fmt.Sprintf("%02d_%s", i, name))
		if err := os.WriteFile(p, []byte(s.Source), 0o644); err != nil {
			return nil, fmt.Errorf("write script %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// structuredResult is one entry of the tool's results.json.
type structuredResult struct {
	File   string `json:"file"`
	Passed bool   `json:"passed"`
}

// deriveVerdicts decomposes a job's combined output into per-script verdicts.
// It prefers the tool's structured results file; when that is absent or
// unreadable it falls back to the stdout filename heuristic, and flags those
// verdicts as heuristic. scriptPaths and scripts are index-aligned.
func deriveVerdicts(outcome runner.ProcessOutcome, scriptPaths []string, scripts []model.Script) []model.ScriptVerdict {
	if verdicts, ok := structuredVerdicts(outcome.ReportDir, scriptPaths, scripts); ok {
		return verdicts
	}

	verdicts := make([]model.ScriptVerdict, len(scripts))
	for i, s := range scripts {
		verdicts[i] = model.ScriptVerdict{
			Name:      s.Name,
			Passed:    !stdoutIndicatesFailure(outcome.Stdout, filepath.Base(scriptPaths[i])),
			Heuristic: true,
		}
	}
	return verdicts
}

// structuredVerdicts reads the tool's results file. The second return value
// is false when the file is missing, unparseable, or does not cover every
// script.
func structuredVerdicts(reportDir string, scriptPaths []string, scripts []model.Script) ([]model.ScriptVerdict, bool) {
	data, err := os.ReadFile(filepath.Join(reportDir, structuredResultsFile))
	if err != nil {
		return nil, false
	}

	var parsed struct {
		Results []structuredResult `json:"results"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false
	}

	byFile := make(map[string]bool, len(parsed.Results))
	for _, r := range parsed.Results {
		byFile[filepath.Base(r.File)] = r.Passed
	}

	verdicts := make([]model.ScriptVerdict, len(scripts))
	for i, s := range scripts {
		passed, ok := byFile[filepath.Base(scriptPaths[i])]
		if !ok {
			return nil, false
		}
		verdicts[i] = model.ScriptVerdict{Name: s.Name, Passed: passed}
	}
	return verdicts, true
}

// stdoutIndicatesFailure reports whether any mention of filename in the
// combined stdout has a failure marker on the same or an adjacent line. This
// cannot reliably attribute a failure to one script within a batched job; it
// is kept for compatibility and its verdicts are flagged heuristic.
func stdoutIndicatesFailure(stdout []string, filename string) bool {
	for i, line := range stdout {
		if !strings.Contains(line, filename) {
			continue
		}
		lo := max(i-heuristicWindow, 0)
		hi := min(i+heuristicWindow, len(stdout)-1)
		for j := lo; j <= hi; j++ {
			for _, marker := range failureMarkers {
				if strings.Contains(stdout[j], marker) {
					return true
				}
			}
		}
	}
	return false
}
