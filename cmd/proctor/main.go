package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/proctor/internal/api"
	"github.com/seantiz/proctor/internal/artifact"
	"github.com/seantiz/proctor/internal/config"
	"github.com/seantiz/proctor/internal/engine"
	"github.com/seantiz/proctor/internal/report"
	"github.com/seantiz/proctor/internal/runner"
	"github.com/seantiz/proctor/internal/status"
	"github.com/seantiz/proctor/internal/store"
	"github.com/seantiz/proctor/internal/validate"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("proctor: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"data_dir", cfg.DataDir,
		"runner_bin", cfg.RunnerBin,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var artifacts artifact.Store = artifact.NoopStore{}
	if cfg.S3Bucket != "" {
		s3Store, err := artifact.NewS3Store(context.Background(), artifact.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatalf("failed to configure artifact store: %v", err)
		}
		artifacts = s3Store
	}

	assembler := report.NewAssembler(cfg.ReportsDir(), db, logger)
	procRunner := runner.New(cfg.RunnerBin, cfg.RunnerArgs, runner.DefaultMaxChunks, logger)
	tracker := status.NewTracker()

	eng := engine.NewEngine(engine.Config{
		ScriptWorkers: cfg.ScriptWorkers,
		JobWorkers:    cfg.JobWorkers,
		ScriptTimeout: cfg.ScriptTimeout,
		JobTimeout:    cfg.JobTimeout,
		WorkDir:       cfg.WorkDir(),
		Retention:     cfg.Retention,
		DedupWindow:   cfg.DedupWindow,
		SweepSchedule: cfg.SweepSchedule,
	}, tracker, db, artifacts, assembler, procRunner, validate.New(), logger)

	if err := eng.StartSweeper(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	defer eng.Close()

	srv := api.NewServer(cfg.ListenAddr, db, eng, cfg.ReportsDir(), logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
