package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.DBPath != "proctor.db" {
		t.Errorf("DBPath = %q, want proctor.db", cfg.DBPath)
	}
	if cfg.RunnerBin != "node" {
		t.Errorf("RunnerBin = %q, want node", cfg.RunnerBin)
	}
	if cfg.ScriptWorkers != 4 {
		t.Errorf("ScriptWorkers = %d, want 4", cfg.ScriptWorkers)
	}
	if cfg.JobWorkers != 2 {
		t.Errorf("JobWorkers = %d, want 2", cfg.JobWorkers)
	}
	if cfg.ScriptTimeout != 5*time.Minute {
		t.Errorf("ScriptTimeout = %v, want 5m", cfg.ScriptTimeout)
	}
	if cfg.JobTimeout != 15*time.Minute {
		t.Errorf("JobTimeout = %v, want 15m", cfg.JobTimeout)
	}
	if cfg.Retention != 30*time.Minute {
		t.Errorf("Retention = %v, want 30m", cfg.Retention)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDataDir, "/var/lib/proctor")
	t.Setenv(envRunnerBin, "npx")
	t.Setenv(envRunnerArgs, "playwright test")
	t.Setenv(envScriptWorkers, "8")
	t.Setenv(envScriptTimeout, "60")
	t.Setenv(envLogLevel, "debug")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.DataDir != "/var/lib/proctor" {
		t.Errorf("DataDir = %q, want /var/lib/proctor", cfg.DataDir)
	}
	if cfg.RunnerBin != "npx" {
		t.Errorf("RunnerBin = %q, want npx", cfg.RunnerBin)
	}
	if len(cfg.RunnerArgs) != 2 || cfg.RunnerArgs[0] != "playwright" || cfg.RunnerArgs[1] != "test" {
		t.Errorf("RunnerArgs = %v, want [playwright test]", cfg.RunnerArgs)
	}
	if cfg.ScriptWorkers != 8 {
		t.Errorf("ScriptWorkers = %d, want 8", cfg.ScriptWorkers)
	}
	if cfg.ScriptTimeout != time.Minute {
		t.Errorf("ScriptTimeout = %v, want 1m", cfg.ScriptTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv(envScriptWorkers, "not-a-number")
	t.Setenv(envJobWorkers, "-2")
	t.Setenv(envJobTimeout, "0")

	cfg := Load()

	if cfg.ScriptWorkers != 4 {
		t.Errorf("ScriptWorkers = %d, want default 4", cfg.ScriptWorkers)
	}
	if cfg.JobWorkers != 2 {
		t.Errorf("JobWorkers = %d, want default 2", cfg.JobWorkers)
	}
	if cfg.JobTimeout != 15*time.Minute {
		t.Errorf("JobTimeout = %v, want default 15m", cfg.JobTimeout)
	}
}

func TestDerivedDirs(t *testing.T) {
	cfg := Config{DataDir: "/srv/proctor"}
	if got := cfg.ReportsDir(); got != "/srv/proctor/reports" {
		t.Errorf("ReportsDir = %q", got)
	}
	if got := cfg.WorkDir(); got != "/srv/proctor/work" {
		t.Errorf("WorkDir = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
