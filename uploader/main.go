package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/feedloader/internal/changeset"
	"github.com/google/feedloader/internal/contentapi"
	"github.com/google/feedloader/internal/platform/env"
	"github.com/google/feedloader/internal/platform/httpserver"
	"github.com/google/feedloader/internal/platform/postgres"
	"github.com/google/feedloader/internal/recorder"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("UPLOADER_HTTP_ADDR", ":8083")
	shutdownTimeout, err := env.Duration("UPLOADER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	retryLimit, err := env.Int("TASK_RETRY_LIMIT", DefaultTaskRetryLimit)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

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

	apiCfg, err := contentapi.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid content api config", "error", err)
		os.Exit(2)
	}
	client, err := contentapi.NewClient(ctx, apiCfg, logger)
	if err != nil {
		logger.Error("content api client init failed", "error", err)
		os.Exit(2)
	}

	results := recorder.New(db, logger)
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := results.EnsureSchema(startupCtx); err != nil {
		cancel()
		logger.Error("result tables unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	uploader := &batchUploader{
		loader:     changeset.ProcessingStore{DB: db},
		submitter:  client,
		results:    results,
		retryLimit: retryLimit,
		logger:     logger,
	}

	mux := http.NewServeMux()
	newUploaderAPI(logger, uploader).register(mux)

	cfg := httpserver.Config{
		Service:         "uploader",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "uploader", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
