package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/platform/httpserver"
)

// Headers the queue runner stamps on every delivery.
const (
	headerExecutionCount = "X-Task-Execution-Count"
	headerQueueName      = "X-Task-Queue-Name"
)

type uploaderAPI struct {
	logger   *slog.Logger
	uploader *batchUploader
}

func newUploaderAPI(logger *slog.Logger, uploader *batchUploader) *uploaderAPI {
	return &uploaderAPI{logger: logger, uploader: uploader}
}

func (api *uploaderAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /insert_items", api.handleBatch(domain.OperationUpsert))
	mux.HandleFunc("POST /delete_items", api.handleBatch(domain.OperationDelete))
	mux.HandleFunc("POST /prevent_expiring_items", api.handleBatch(domain.OperationPreventExpiring))
	mux.HandleFunc("GET /health", httpserver.Health("uploader"))
}

func (api *uploaderAPI) handleBatch(op domain.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task domain.UploadTask
		if err := decodeJSON(r, &task); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := task.Validate(); err != nil {
			api.logger.Warn("rejecting invalid task", "operation", op.String(), "error", err)
			api.writeError(w, r, http.StatusBadRequest, "invalid_task")
			return
		}
		if task.Channel == "" {
			task.Channel = domain.ChannelForQueue(r.Header.Get(headerQueueName))
		}
		attempt := domain.AttemptFromHeader(r.Header.Get(headerExecutionCount))

		status := api.uploader.process(r.Context(), op, task, attempt)
		if status != http.StatusOK {
			api.writeError(w, r, status, "batch_failed")
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "done"})
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

func (api *uploaderAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}
