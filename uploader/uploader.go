package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/feedloader/internal/contentapi"
	"github.com/google/feedloader/internal/domain"
)

// DefaultTaskRetryLimit is how many deliveries the queue grants a task
// before it stops redelivering.
const DefaultTaskRetryLimit = 5

// ItemLoader reads one batch window from a run's processing table.
type ItemLoader interface {
	LoadWindow(ctx context.Context, op domain.Operation, timestamp string, startIndex, batchSize int64) ([]domain.ItemRow, error)
}

// Submitter sends one batch to the catalog API.
type Submitter interface {
	Submit(ctx context.Context, op domain.Operation, rows []domain.ItemRow, channel domain.Channel) (domain.ProcessResult, error)
}

// ResultSink persists a batch outcome. Implementations must not fail the
// upload: recording errors stay inside the sink.
type ResultSink interface {
	Record(ctx context.Context, op domain.Operation, task domain.UploadTask, result domain.ProcessResult)
}

type batchUploader struct {
	loader     ItemLoader
	submitter  Submitter
	results    ResultSink
	retryLimit int
	logger     *slog.Logger
}

// process runs one batch through load, submit, and record, and returns the
// HTTP status the delivery attempt should see. A non-2xx status asks the
// queue to redeliver; the outcome is recorded exactly when the task will
// not be delivered again.
func (u *batchUploader) process(ctx context.Context, op domain.Operation, task domain.UploadTask, attempt domain.ExecutionAttempt) int {
	log := u.logger.With(
		"operation", op.String(),
		"run_timestamp", task.Timestamp,
		"batch_number", task.BatchNumber(),
		"attempt", attempt.Count())

	rows, err := u.loader.LoadWindow(ctx, op, task.Timestamp, task.StartIndex, task.BatchSize)
	if err != nil {
		log.Error("loading batch window failed", "error", err)
		return http.StatusInternalServerError
	}
	if len(rows) == 0 {
		log.Error("batch window is empty", "start_index", task.StartIndex, "batch_size", task.BatchSize)
		return http.StatusInternalServerError
	}

	result, err := u.submitter.Submit(ctx, op, rows, task.Channel)
	if err != nil {
		if contentapi.SuggestRetry(err) && attempt.RetriesLeft(u.retryLimit) {
			log.Warn("batch call failed, leaving task for redelivery", "error", err)
			return http.StatusInternalServerError
		}
		log.Error("batch call failed with no retries left, failing all items", "error", err)
		failed := domain.FailAll(submittedIDs(rows, result.SkippedItemIDs), err.Error())
		failed.SkippedItemIDs = result.SkippedItemIDs
		u.results.Record(ctx, op, task, failed)
		return http.StatusOK
	}

	u.results.Record(ctx, op, task, result)
	log.Info("batch uploaded",
		"success", result.SuccessCount(),
		"failure", result.FailureCount(),
		"skipped", result.SkippedCount())
	return http.StatusOK
}

// submittedIDs is every loaded item that made it into the batch call:
// the loaded rows minus the ones skipped before submission.
func submittedIDs(rows []domain.ItemRow, skipped []string) []string {
	skippedSet := make(map[string]struct{}, len(skipped))
	for _, id := range skipped {
		skippedSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id := row.ItemID()
		if id == "" {
			continue
		}
		if _, ok := skippedSet[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
