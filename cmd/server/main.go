// Package main is the entry point for the stratlab backtesting and
// strategy-evaluation server. It wires configuration, logging, the
// runs database, the evaluation services and the HTTP API, then runs
// until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/stratlab/internal/config"
	"github.com/aristath/stratlab/internal/database"
	"github.com/aristath/stratlab/internal/modules/backtest"
	"github.com/aristath/stratlab/internal/modules/optimizer"
	"github.com/aristath/stratlab/internal/modules/robustness"
	"github.com/aristath/stratlab/internal/modules/runs"
	"github.com/aristath/stratlab/internal/modules/signals"
	"github.com/aristath/stratlab/internal/modules/walkforward"
	"github.com/aristath/stratlab/internal/scheduler"
	"github.com/aristath/stratlab/internal/server"
	"github.com/aristath/stratlab/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("version", server.Version).Msg("Starting stratlab")

	// Runs database.
	db, err := database.New(database.Config{Path: cfg.RunsDBPath(), Name: "runs"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open runs database")
	}
	defer db.Close()

	runsRepo, err := runs.NewRepository(db.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runs repository")
	}

	// Strategy registry. The score-threshold strategy is the default
	// implementation; additional generators register here.
	registry := signals.NewRegistry()
	registry.Register("score_threshold", signals.NewThresholdStrategy(log))

	// Evaluation services.
	backtestSvc := backtest.NewService(registry, log)
	wfDriver := walkforward.NewDriver(backtestSvc, log)
	gridSearch := optimizer.NewGridSearch(backtestSvc, cfg.Workers, log)
	robustnessAnalyzer := robustness.NewAnalyzer(log)

	// Optional S3 artifact backup.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	backup, err := runs.NewS3Backup(startupCtx, runs.S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Prefix:    cfg.S3Prefix,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, log)
	cancelStartup()
	if err != nil {
		log.Warn().Err(err).Msg("S3 backup disabled")
		backup = nil
	}
	if backup != nil {
		log.Info().Str("bucket", cfg.S3Bucket).Msg("S3 artifact backup enabled")
	}

	// Nightly retention cleanup plus weekly database maintenance.
	sched := scheduler.New(log)
	if cfg.RunRetentionDays > 0 {
		job := runs.NewRetentionJob(runsRepo, cfg.RunRetentionDays, log)
		if err := sched.AddJob("0 3 * * *", job); err != nil {
			log.Error().Err(err).Msg("Failed to register retention job")
		}
	}
	if err := sched.AddJob("0 4 * * 0", database.NewMaintenanceJob(db, log)); err != nil {
		log.Error().Err(err).Msg("Failed to register maintenance job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		ExportDir:   cfg.ExportDir(),
		Registry:    registry,
		Backtest:    backtestSvc,
		WalkForward: wfDriver,
		Optimizer:   gridSearch,
		Robustness:  robustnessAnalyzer,
		Runs:        runsRepo,
		Backup:      backup,
		DB:          db,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("stratlab stopped")
}
