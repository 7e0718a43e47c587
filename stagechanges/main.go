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
	"github.com/google/feedloader/internal/feedconfig"
	"github.com/google/feedloader/internal/platform/env"
	"github.com/google/feedloader/internal/platform/httpserver"
	"github.com/google/feedloader/internal/platform/objectstore"
	"github.com/google/feedloader/internal/platform/postgres"
	"github.com/google/feedloader/internal/runlock"
	"github.com/google/feedloader/internal/taskqueue"
	"github.com/google/feedloader/internal/verifier"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("STAGECHANGES_HTTP_ADDR", ":8081")
	shutdownTimeout, err := env.Duration("STAGECHANGES_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	deletesThreshold, err := env.Int("DELETES_THRESHOLD", 0)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	upsertsThreshold, err := env.Int("UPSERTS_THRESHOLD", 0)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	expirationAge, err := env.Int("EXPIRATION_AGE_DAYS", 25)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	feedConfigPath := env.String("FEED_CONFIG_PATH", "feed_config.yaml")

	feed, err := feedconfig.Load(feedConfigPath)
	if err != nil {
		logger.Error("invalid feed config", "error", err)
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

	engine := changeset.NewEngine(changeset.SQLEngine{DB: db}, feed, changeset.Config{
		DeletesThreshold:  int64(deletesThreshold),
		UpsertsThreshold:  int64(upsertsThreshold),
		ExpirationAgeDays: expirationAge,
	}, logger)

	api := &stageAPI{
		logger:     logger,
		store:      store,
		feedBucket: storeCfg.BucketFeed,
		lock:       runlock.New(store, storeCfg.BucketLock, logger),
		verify:     verifier.New(store, storeCfg.BucketFeed, storeCfg.BucketCompleted, storeCfg.BucketRetrigger, logger),
		archiver: feedArchiver{
			store:         store,
			feedBucket:    storeCfg.BucketFeed,
			archiveBucket: storeCfg.BucketArchive,
			logger:        logger,
		},
		engine:  engine,
		starter: queue,
		cleaner: changeset.ProcessingStore{DB: db},
		now:     time.Now,
	}

	mux := http.NewServeMux()
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "stagechanges",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "stagechanges", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
