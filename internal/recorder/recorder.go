// Package recorder persists per-batch upload outcomes for monitoring.
// Recording is best-effort: a batch that uploaded must never be failed
// because its bookkeeping did not stick, so failures here are logged with
// the counts they would have stored and swallowed.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/feedloader/internal/domain"
)

type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}
}

const createResultTablesQuery = `
	CREATE TABLE IF NOT EXISTS process_result (
		operation TEXT NOT NULL,
		run_timestamp TEXT NOT NULL,
		batch_number INT NOT NULL,
		channel TEXT NOT NULL,
		success_count INT NOT NULL,
		failure_count INT NOT NULL,
		skipped_count INT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (operation, run_timestamp, batch_number, channel)
	);
	CREATE TABLE IF NOT EXISTS item_results (
		operation TEXT NOT NULL,
		run_timestamp TEXT NOT NULL,
		batch_number INT NOT NULL,
		item_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createResultTablesQuery); err != nil {
		return fmt.Errorf("create result tables: %w", err)
	}
	return nil
}

// insertProcessResultQuery upserts on the batch key, so a redelivered task
// recording the same batch twice overwrites instead of double-counting.
const insertProcessResultQuery = `
	INSERT INTO process_result (operation, run_timestamp, batch_number, channel, success_count, failure_count, skipped_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (operation, run_timestamp, batch_number, channel)
	DO UPDATE SET success_count = $5, failure_count = $6, skipped_count = $7, recorded_at = now()`

const deleteItemResultsQuery = `
	DELETE FROM item_results
	WHERE operation = $1 AND run_timestamp = $2 AND batch_number = $3`

const insertItemResultQuery = `
	INSERT INTO item_results (operation, run_timestamp, batch_number, item_id, outcome, error)
	VALUES ($1, $2, $3, $4, $5, $6)`

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// Record stores the batch-level counts and one row per item outcome.
func (r *Recorder) Record(ctx context.Context, op domain.Operation, task domain.UploadTask, result domain.ProcessResult) {
	if r == nil || r.db == nil {
		return
	}
	batch := task.BatchNumber()
	log := r.logger.With(
		"operation", op.String(),
		"run_timestamp", task.Timestamp,
		"batch_number", batch)

	if _, err := r.db.ExecContext(ctx, insertProcessResultQuery,
		op.String(), task.Timestamp, batch, string(task.Channel),
		result.SuccessCount(), result.FailureCount(), result.SkippedCount()); err != nil {
		log.Error("recording batch result failed", "error", err, "counts", result.CountsString())
		return
	}

	// Re-recording the batch replaces its item rows rather than appending.
	if _, err := r.db.ExecContext(ctx, deleteItemResultsQuery, op.String(), task.Timestamp, batch); err != nil {
		log.Error("clearing previous item results failed", "error", err)
		return
	}

	for _, id := range result.SucceededItemIDs {
		r.recordItem(ctx, log, op, task, batch, id, outcomeSuccess, "")
	}
	for _, failure := range result.Failures {
		r.recordItem(ctx, log, op, task, batch, failure.ItemID, outcomeFailure, failure.Error)
	}
	for _, id := range result.SkippedItemIDs {
		r.recordItem(ctx, log, op, task, batch, id, outcomeSkipped, "")
	}
}

func (r *Recorder) recordItem(ctx context.Context, log *slog.Logger, op domain.Operation, task domain.UploadTask, batch int, itemID, outcome, reason string) {
	if _, err := r.db.ExecContext(ctx, insertItemResultQuery,
		op.String(), task.Timestamp, batch, itemID, outcome, reason); err != nil {
		log.Error("recording item result failed", "item_id", itemID, "outcome", outcome, "error", err)
	}
}
