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
)

// ProcessingTables freezes staged changes into per-run tables.
type ProcessingTables interface {
	Create(ctx context.Context, op domain.Operation, timestamp string) error
	Drop(ctx context.Context, op domain.Operation, timestamp string) error
}

// Dispatcher fans a run's counts out into upload tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, start domain.RunStart, timestamp string, channel domain.Channel) (int, error)
}

// RunLock is the pipeline's single-flight guard, released once the run is
// handed to the queue or abandoned.
type RunLock interface {
	Release(ctx context.Context) error
}

// Monitor is told when a run's tasks are all enqueued so the downstream
// completion watcher starts counting results.
type Monitor interface {
	TriggerCompletion(ctx context.Context, timestamp string) error
}

// Mailer is told when a run had nothing to dispatch.
type Mailer interface {
	NotifyNothingToDispatch(ctx context.Context, start domain.RunStart) error
}

// ItemsCleaner drops the imported feed table when a run aborts, so a
// re-upload starts from a clean slate.
type ItemsCleaner interface {
	DropLiveItems(ctx context.Context) error
}

type initiatorAPI struct {
	logger     *slog.Logger
	tables     ProcessingTables
	dispatcher Dispatcher
	lock       RunLock
	monitor    Monitor
	mailer     Mailer
	cleaner    ItemsCleaner
	channel    domain.Channel
	now        func() time.Time
}

func (api *initiatorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /start", api.handleStart)
	mux.HandleFunc("GET /health", httpserver.Health("initiator"))
}

func (api *initiatorAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var start domain.RunStart
	if err := decodeJSON(r, &start); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := start.Validate(); err != nil {
		api.logger.Warn("rejecting run start", "error", err)
		api.writeError(w, r, http.StatusBadRequest, "invalid_counts")
		return
	}

	if start.Empty() {
		api.logger.Info("no changes to dispatch, notifying mailer")
		if err := api.mailer.NotifyNothingToDispatch(ctx, start); err != nil {
			api.logger.Error("mailer notification failed", "error", err)
		}
		api.cleanup(ctx, "", nil)
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "nothing to dispatch", "tasks": 0})
		return
	}

	timestamp := changeset.FormatRunTimestamp(api.now())
	log := api.logger.With("run_timestamp", timestamp)

	var created []domain.Operation
	for _, op := range domain.Operations() {
		if countFor(start, op) == 0 {
			continue
		}
		if err := api.tables.Create(ctx, op, timestamp); err != nil {
			log.Error("creating processing table failed", "operation", op.String(), "error", err)
			api.cleanup(ctx, timestamp, created)
			api.writeError(w, r, http.StatusInternalServerError, "processing_tables_failed")
			return
		}
		created = append(created, op)
	}

	tasks, err := api.dispatcher.Dispatch(ctx, start, timestamp, api.channel)
	if err != nil {
		log.Error("dispatch failed", "tasks_enqueued", tasks, "error", err)
		api.cleanup(ctx, timestamp, created)
		api.writeError(w, r, http.StatusInternalServerError, "dispatch_failed")
		return
	}

	if err := api.monitor.TriggerCompletion(ctx, timestamp); err != nil {
		log.Error("completion trigger failed, monitor will not track this run", "error", err)
	}
	if err := api.lock.Release(ctx); err != nil {
		log.Error("lock release failed", "error", err)
	}

	log.Info("run dispatched", "tasks", tasks)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "dispatched", "tasks": tasks})
}

// cleanup abandons a run: created processing tables and the imported feed
// table go away and the lock opens for the next upload.
func (api *initiatorAPI) cleanup(ctx context.Context, timestamp string, created []domain.Operation) {
	for _, op := range created {
		if err := api.tables.Drop(ctx, op, timestamp); err != nil {
			api.logger.Error("dropping processing table failed", "operation", op.String(), "error", err)
		}
	}
	if err := api.cleaner.DropLiveItems(ctx); err != nil {
		api.logger.Error("dropping items table failed", "error", err)
	}
	if err := api.lock.Release(ctx); err != nil {
		api.logger.Error("lock release failed", "error", err)
	}
}

func countFor(start domain.RunStart, op domain.Operation) int64 {
	switch op {
	case domain.OperationDelete:
		return start.DeleteCount
	case domain.OperationPreventExpiring:
		return start.ExpiringCount
	default:
		return start.UpsertCount
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

func (api *initiatorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}
