// Package fanout turns per-run change counts into batch upload tasks.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/feedloader/internal/domain"
)

// DefaultBatchSize is how many items one upload task carries.
const DefaultBatchSize = 1000

// Queue accepts upload tasks for later delivery.
type Queue interface {
	Enqueue(ctx context.Context, op domain.Operation, task domain.UploadTask) error
}

type Dispatcher struct {
	queue     Queue
	batchSize int
	logger    *slog.Logger
}

func NewDispatcher(queue Queue, batchSize int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, batchSize: batchSize, logger: logger}
}

// Dispatch enqueues one task per batch window for every operation with a
// non-zero count. Every task carries the same batch size; the loader clips
// the last window to the table end, and batch numbering depends on the
// size staying constant. Returns the number of tasks enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, start domain.RunStart, timestamp string, channel domain.Channel) (int, error) {
	if d == nil || d.queue == nil {
		return 0, errors.New("fanout: dispatcher not initialized")
	}
	total := 0
	for op, count := range map[domain.Operation]int64{
		domain.OperationDelete:          start.DeleteCount,
		domain.OperationUpsert:          start.UpsertCount,
		domain.OperationPreventExpiring: start.ExpiringCount,
	} {
		n, err := d.dispatchOperation(ctx, op, count, timestamp, channel)
		total += n
		if err != nil {
			return total, err
		}
	}
	d.logger.Info("dispatched upload tasks",
		"tasks", total,
		"deletes", start.DeleteCount,
		"upserts", start.UpsertCount,
		"expiring", start.ExpiringCount)
	return total, nil
}

func (d *Dispatcher) dispatchOperation(ctx context.Context, op domain.Operation, count int64, timestamp string, channel domain.Channel) (int, error) {
	dispatched := 0
	for startIndex := int64(0); startIndex < count; startIndex += int64(d.batchSize) {
		task := domain.UploadTask{
			StartIndex: startIndex,
			BatchSize:  int64(d.batchSize),
			Timestamp:  timestamp,
			Channel:    channel,
		}
		if err := d.queue.Enqueue(ctx, op, task); err != nil {
			return dispatched, fmt.Errorf("enqueue %s batch %d: %w", op, task.BatchNumber(), err)
		}
		dispatched++
	}
	return dispatched, nil
}
