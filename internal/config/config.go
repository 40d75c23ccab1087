// Package config loads application configuration from the environment and
// builds the shared structured logger.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "proctor.db"
	defaultDataDir       = "data"
	defaultRunnerBin     = "node"
	defaultScriptWorkers = 4
	defaultJobWorkers    = 2
	defaultScriptTimeout = 5 * time.Minute
	defaultJobTimeout    = 15 * time.Minute
	defaultRetention     = 30 * time.Minute
	defaultDedupWindow   = 30 * time.Second
	defaultSweepSchedule = "@every 1m"

	envListenAddr    = "PROCTOR_LISTEN_ADDR"
	envDBPath        = "PROCTOR_DB_PATH"
	envLogLevel      = "PROCTOR_LOG_LEVEL"
	envDataDir       = "PROCTOR_DATA_DIR"
	envRunnerBin     = "PROCTOR_RUNNER_BIN"
	envRunnerArgs    = "PROCTOR_RUNNER_ARGS"
	envScriptWorkers = "PROCTOR_SCRIPT_WORKERS"
	envJobWorkers    = "PROCTOR_JOB_WORKERS"
	envScriptTimeout = "PROCTOR_SCRIPT_TIMEOUT_S"
	envJobTimeout    = "PROCTOR_JOB_TIMEOUT_S"
	envRetention     = "PROCTOR_RETENTION_S"
	envDedupWindow   = "PROCTOR_DEDUP_WINDOW_S"
	envSweepSchedule = "PROCTOR_SWEEP_SCHEDULE"
	envS3Bucket      = "PROCTOR_S3_BUCKET"
	envS3Prefix      = "PROCTOR_S3_PREFIX"
	envS3Region      = "PROCTOR_S3_REGION"
	envS3Endpoint    = "PROCTOR_S3_ENDPOINT"
	envS3AccessKey   = "PROCTOR_S3_ACCESS_KEY_ID"
	envS3SecretKey   = "PROCTOR_S3_SECRET_ACCESS_KEY"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// DataDir is the root for reports (DataDir/reports) and materialized
	// script scratch space (DataDir/work).
	DataDir string

	RunnerBin  string
	RunnerArgs []string

	ScriptWorkers int
	JobWorkers    int
	ScriptTimeout time.Duration
	JobTimeout    time.Duration
	Retention     time.Duration
	DedupWindow   time.Duration
	SweepSchedule string

	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// ReportsDir returns the reports root beneath DataDir.
func (c Config) ReportsDir() string {
	return c.DataDir + "/reports"
}

// WorkDir returns the script scratch root beneath DataDir.
func (c Config) WorkDir() string {
	return c.DataDir + "/work"
}

// Load reads configuration from a .env file (when present) and environment
// variables, with sensible defaults.
func Load() Config {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		DataDir:       defaultDataDir,
		RunnerBin:     defaultRunnerBin,
		ScriptWorkers: defaultScriptWorkers,
		JobWorkers:    defaultJobWorkers,
		ScriptTimeout: defaultScriptTimeout,
		JobTimeout:    defaultJobTimeout,
		Retention:     defaultRetention,
		DedupWindow:   defaultDedupWindow,
		SweepSchedule: defaultSweepSchedule,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envRunnerBin); v != "" {
		cfg.RunnerBin = v
	}
	if v := os.Getenv(envRunnerArgs); v != "" {
		cfg.RunnerArgs = strings.Fields(v)
	}
	cfg.ScriptWorkers = intEnv(envScriptWorkers, cfg.ScriptWorkers)
	cfg.JobWorkers = intEnv(envJobWorkers, cfg.JobWorkers)
	cfg.ScriptTimeout = secondsEnv(envScriptTimeout, cfg.ScriptTimeout)
	cfg.JobTimeout = secondsEnv(envJobTimeout, cfg.JobTimeout)
	cfg.Retention = secondsEnv(envRetention, cfg.Retention)
	cfg.DedupWindow = secondsEnv(envDedupWindow, cfg.DedupWindow)
	if v := os.Getenv(envSweepSchedule); v != "" {
		cfg.SweepSchedule = v
	}

	cfg.S3Bucket = os.Getenv(envS3Bucket)
	cfg.S3Prefix = os.Getenv(envS3Prefix)
	cfg.S3Region = os.Getenv(envS3Region)
	cfg.S3Endpoint = os.Getenv(envS3Endpoint)
	cfg.S3AccessKey = os.Getenv(envS3AccessKey)
	cfg.S3SecretKey = os.Getenv(envS3SecretKey)

	return cfg
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func secondsEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
