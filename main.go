package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finanzas/config"
	"finanzas/internal/bootstrap"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

// Batch-mode exit codes. Cron wrappers alert differently on auth failures
// than on an unreachable database.
const (
	exitOK = iota
	exitFailure
	exitAuthFailed
	exitDBUnreachable
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "finanzas",
	})

	// .env is for local development only.
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all, sync")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "worker":
		runWorker(cfg)
	case "all":
		go runWorker(cfg)
		runAPI(cfg)
	case "sync":
		os.Exit(runSyncOnce(cfg))
	default:
		logger.Fatal("unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Fatal("failed to initialize API: %v", err)
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down API server (timeout: %v)", shutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- app.Shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("error shutting down: %v", err)
			}
		case <-ctx.Done():
			logger.Warn("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("failed to start server: %v", err)
	}
}

func runWorker(cfg *config.Config) {
	worker, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		logger.Fatal("failed to initialize worker: %v", err)
	}
	defer cleanup()

	worker.Start()
	logger.Info("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker (timeout: %v)", shutdownTimeout)
	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("worker shutdown timed out, forcing exit")
	}
}

// runSyncOnce runs one sync pass for every active profile and exits. Meant
// for cron; the exit code tells the wrapper what went wrong.
func runSyncOnce(cfg *config.Config) int {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("dependency init failed")
		return exitDBUnreachable
	}
	defer cleanup()

	ctx := context.Background()
	profiles, err := deps.Profiles.ListActive(ctx)
	if err != nil {
		logger.WithError(err).Error("list active profiles failed")
		return exitDBUnreachable
	}

	code := exitOK
	for _, profile := range profiles {
		run, err := deps.Syncs.SyncProfile(ctx, profile.ID)
		if err != nil {
			logger.WithError(err).WithProfile(profile.ID).Error("sync failed")
			if apperr.IsCode(err, apperr.CodeAuthFailed) {
				return exitAuthFailed
			}
			code = exitFailure
			continue
		}
		logger.WithProfile(profile.ID).Info(
			"sync finished: mode=%s processed=%d duplicates=%d errors=%d needs_review=%d",
			run.Mode, run.Result.Processed, run.Result.Duplicates,
			run.Result.Errors, run.Result.NeedsReview,
		)
	}
	return code
}
