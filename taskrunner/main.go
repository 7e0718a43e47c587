package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/platform/env"
	"github.com/google/feedloader/internal/platform/httpserver"
	"github.com/google/feedloader/internal/platform/postgres"
	"github.com/google/feedloader/internal/taskqueue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("TASKRUNNER_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("TASKRUNNER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	leaseDuration, err := env.Duration("TASK_LEASE_DURATION", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("TASK_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	retryLimit, err := env.Int("TASK_RETRY_LIMIT", 5)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	queues := strings.Split(env.String("TASK_QUEUES", strings.Join([]string{
		taskqueue.QueueRunCoordination,
		domain.QueueProcessingItems,
		domain.QueueProcessingItemsLocal,
	}, ",")), ",")

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	queue := taskqueue.New(db)
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := queue.EnsureSchema(startupCtx); err != nil {
		cancel()
		logger.Error("task queue unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	runner, err := NewRunner(queue, &http.Client{Timeout: leaseDuration}, RunnerConfig{
		Queues:       queues,
		InitiatorURL: env.String("INITIATOR_URL", "http://localhost:8082"),
		UploaderURL:  env.String("UPLOADER_URL", "http://localhost:8083"),

		LeaseDuration:  leaseDuration,
		PollInterval:   pollInterval,
		BackoffInitial: time.Second,
		BackoffMax:     5 * time.Minute,
		RetryLimit:     retryLimit,
	}, logger)
	if err != nil {
		logger.Error("invalid runner config", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpserver.Health("taskrunner"))
	go func() {
		cfg := httpserver.Config{
			Service:         "taskrunner",
			Addr:            addr,
			ShutdownTimeout: shutdownTimeout,
		}
		if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "taskrunner", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner failed", "error", err)
		os.Exit(1)
	}
}
