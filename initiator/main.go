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
	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/fanout"
	"github.com/google/feedloader/internal/platform/env"
	"github.com/google/feedloader/internal/platform/httpserver"
	"github.com/google/feedloader/internal/platform/objectstore"
	"github.com/google/feedloader/internal/platform/postgres"
	"github.com/google/feedloader/internal/runlock"
	"github.com/google/feedloader/internal/taskqueue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("INITIATOR_HTTP_ADDR", ":8082")
	shutdownTimeout, err := env.Duration("INITIATOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	batchSize, err := env.Int("BATCH_SIZE", fanout.DefaultBatchSize)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	channel := domain.Channel(env.String("FEED_CHANNEL", string(domain.ChannelOnline)))

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

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	client, err := objectstore.NewClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.CheckBuckets(startupCtx, client, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	queue := taskqueue.New(db)
	startupCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	if err := queue.EnsureSchema(startupCtx); err != nil {
		cancel()
		logger.Error("task queue unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	api := &initiatorAPI{
		logger:     logger,
		tables:     changeset.ProcessingStore{DB: db},
		dispatcher: fanout.NewDispatcher(queue, batchSize, logger),
		lock:       runlock.New(store, storeCfg.BucketLock, logger),
		monitor:    completionMonitor{store: store, bucket: storeCfg.BucketMonitor},
		mailer:     queueMailer{queue: queue},
		cleaner:    changeset.ProcessingStore{DB: db},
		channel:    channel,
		now:        time.Now,
	}

	mux := http.NewServeMux()
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "initiator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "initiator", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
