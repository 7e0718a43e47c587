package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/feedloader/internal/changeset"
	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/platform/httpserver"
	"github.com/google/feedloader/internal/platform/objectstore"
	"github.com/google/feedloader/internal/runlock"
	"github.com/google/feedloader/internal/verifier"
)

// Locker guards the pipeline against overlapping runs.
type Locker interface {
	Acquire(ctx context.Context, triggerBucket, triggerName string) error
	Release(ctx context.Context) error
}

// Completeness reconciles uploaded feed files against ingestion
// confirmations.
type Completeness interface {
	Check(ctx context.Context) (verifier.Report, error)
	TriggerReupload(ctx context.Context, missing []string) error
	CleanupCompleted(ctx context.Context) (int, error)
}

// Archiver moves consumed feed files into the archive.
type Archiver interface {
	Archive(ctx context.Context, timestamp string) (int, error)
}

// ChangeEngine computes the run's change counts.
type ChangeEngine interface {
	TablesExist(ctx context.Context) (bool, error)
	Compute(ctx context.Context, runTime time.Time) (domain.RunStart, error)
}

// RunStarter hands the counts to the initiator.
type RunStarter interface {
	EnqueueRunStart(ctx context.Context, start domain.RunStart) error
}

// ItemsCleaner drops the imported feed table when a run aborts.
type ItemsCleaner interface {
	DropLiveItems(ctx context.Context) error
}

type stageAPI struct {
	logger     *slog.Logger
	store      objectstore.Store
	feedBucket string
	lock       Locker
	verify     Completeness
	archiver   Archiver
	engine     ChangeEngine
	starter    RunStarter
	cleaner    ItemsCleaner
	now        func() time.Time
}

func (api *stageAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /trigger", api.handleTrigger)
	mux.HandleFunc("GET /health", httpserver.Health("stagechanges"))
}

// uploadNotification is the object-store event for a finished feed upload.
type uploadNotification struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func (api *stageAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var note uploadNotification
	if err := decodeJSON(r, &note); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if note.Name != runlock.TriggerName && note.Name != runlock.RetryTriggerName {
		api.logger.Info("ignoring non-trigger object", "object", note.Name)
		api.writeError(w, r, http.StatusBadRequest, "not_a_trigger")
		return
	}
	if note.Bucket != api.feedBucket {
		api.logger.Warn("trigger from unexpected bucket", "bucket", note.Bucket)
		api.writeError(w, r, http.StatusBadRequest, "wrong_bucket")
		return
	}

	info, err := api.store.Stat(ctx, api.feedBucket, note.Name)
	if errors.Is(err, objectstore.ErrNotExist) {
		// Already consumed by a concurrent notification.
		api.writeError(w, r, http.StatusConflict, "trigger_gone")
		return
	}
	if err != nil {
		api.logger.Error("stat trigger failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "store_unavailable")
		return
	}
	if info.Size != 0 {
		api.logger.Error("trigger object is not empty, refusing run", "object", note.Name, "size", info.Size)
		api.writeError(w, r, http.StatusBadRequest, "trigger_not_empty")
		return
	}

	if runlock.IsRetryTrigger(note.Name) {
		// The aborted run still holds the lock; just consume the trigger.
		if err := api.store.Remove(ctx, api.feedBucket, note.Name); err != nil {
			api.logger.Error("failed to remove retry trigger", "error", err)
		}
	} else {
		if err := api.lock.Acquire(ctx, api.feedBucket, note.Name); err != nil {
			if errors.Is(err, runlock.ErrLockHeld) {
				api.logger.Warn("run already in progress")
				api.writeError(w, r, http.StatusConflict, "run_in_progress")
				return
			}
			api.logger.Error("lock acquire failed", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "lock_failed")
			return
		}
	}

	report, err := api.verify.Check(ctx)
	if err != nil {
		api.logger.Error("completeness check failed", "error", err)
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "completeness_check_failed")
		return
	}
	if !report.AllPresent {
		// Keep the lock: re-ingestion raises EOF.retry to resume this run.
		api.logger.Warn("feed files missing, triggering reupload", "missing", len(report.Missing))
		if err := api.verify.TriggerReupload(ctx, report.Missing); err != nil {
			api.logger.Error("reprocess trigger failed", "error", err)
			api.abort(ctx)
			api.writeError(w, r, http.StatusInternalServerError, "reupload_trigger_failed")
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "awaiting reupload",
			"missing": len(report.Missing),
		})
		return
	}
	if _, err := api.verify.CleanupCompleted(ctx); err != nil {
		api.logger.Error("completed-marker cleanup failed", "error", err)
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "completed_cleanup_failed")
		return
	}

	runTime := api.now()
	timestamp := changeset.FormatRunTimestamp(runTime)
	log := api.logger.With("run_timestamp", timestamp)

	if _, err := api.archiver.Archive(ctx, timestamp); err != nil {
		log.Error("feed archival failed", "error", err)
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "archive_failed")
		return
	}

	ok, err := api.engine.TablesExist(ctx)
	if err != nil || !ok {
		if err != nil {
			log.Error("table existence check failed", "error", err)
		} else {
			log.Error("required tables missing, aborting run")
		}
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "tables_missing")
		return
	}

	start, err := api.engine.Compute(ctx, runTime)
	if err != nil {
		log.Error("change computation failed", "error", err)
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "compute_failed")
		return
	}

	if err := api.starter.EnqueueRunStart(ctx, start); err != nil {
		log.Error("run start enqueue failed", "error", err)
		api.abort(ctx)
		api.writeError(w, r, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	log.Info("changes staged",
		"deletes", start.DeleteCount,
		"upserts", start.UpsertCount,
		"expiring", start.ExpiringCount)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "changes staged",
		"deleteCount":   start.DeleteCount,
		"upsertCount":   start.UpsertCount,
		"expiringCount": start.ExpiringCount,
	})
}

// abort abandons the run: the imported feed table goes away and the lock
// opens for the next upload.
func (api *stageAPI) abort(ctx context.Context) {
	if err := api.cleaner.DropLiveItems(ctx); err != nil {
		api.logger.Error("dropping items table failed", "error", err)
	}
	if err := api.lock.Release(ctx); err != nil {
		api.logger.Error("lock release failed", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *stageAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}
