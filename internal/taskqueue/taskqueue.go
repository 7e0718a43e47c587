// Package taskqueue is a Postgres-backed delivery queue. Each task is one
// HTTP POST waiting to happen: a target path plus a JSON payload. Leasing
// uses SKIP LOCKED so multiple runner replicas never deliver the same task
// concurrently; an expired lease makes the task leasable again, which is
// where at-least-once delivery comes from.
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/google/feedloader/internal/domain"
)

// ErrNoTask reports an empty queue.
var ErrNoTask = errors.New("taskqueue: no task available")

// QueueRunCoordination carries run-start tasks for the initiator.
const QueueRunCoordination = "run-coordination"

// RunStartPath is the initiator endpoint run-start tasks target.
const RunStartPath = "/start"

// Task is one leased delivery attempt.
type Task struct {
	ID         uuid.UUID
	Queue      string
	TargetPath string
	Payload    json.RawMessage
	// Attempt counts deliveries of this task, starting at 1.
	Attempt int
}

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

const createTableQuery = `
	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		queue TEXT NOT NULL,
		target_path TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		not_before TIMESTAMPTZ NOT NULL DEFAULT now(),
		leased_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// EnsureSchema creates the queue table when absent.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

const enqueueQuery = `
	INSERT INTO tasks (id, queue, target_path, payload)
	VALUES ($1, $2, $3, $4)`

// EnqueueJSON adds one task delivering the payload to the target path.
func (q *Queue) EnqueueJSON(ctx context.Context, queue, targetPath string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, enqueueQuery, uuid.New(), queue, targetPath, body); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Enqueue adds one upload task. The delivery queue follows the task's
// channel and the target path follows the operation, so Enqueue satisfies
// the dispatcher's queue contract directly.
func (q *Queue) Enqueue(ctx context.Context, op domain.Operation, task domain.UploadTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return q.EnqueueJSON(ctx, task.Channel.QueueName(), op.TargetURL(), task)
}

// EnqueueRunStart hands the computed change counts to the initiator.
func (q *Queue) EnqueueRunStart(ctx context.Context, start domain.RunStart) error {
	if err := start.Validate(); err != nil {
		return fmt.Errorf("enqueue run start: %w", err)
	}
	return q.EnqueueJSON(ctx, QueueRunCoordination, RunStartPath, start)
}

const leaseQuery = `
	UPDATE tasks
	SET attempts = attempts + 1, leased_until = now() + $1::interval
	WHERE id = (
		SELECT id FROM tasks
		WHERE queue = ANY($2)
		AND not_before <= now()
		AND (leased_until IS NULL OR leased_until < now())
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, queue, target_path, payload, attempts`

// Lease claims the oldest deliverable task on the given queues for the
// lease duration. Tasks on other queues are left for their own consumers.
// Returns ErrNoTask when nothing is ready.
func (q *Queue) Lease(ctx context.Context, lease time.Duration, queues ...string) (Task, error) {
	row := q.db.QueryRowContext(ctx, leaseQuery, pgInterval(lease), queues)

	var task Task
	if err := row.Scan(&task.ID, &task.Queue, &task.TargetPath, &task.Payload, &task.Attempt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNoTask
		}
		return Task{}, fmt.Errorf("lease: %w", err)
	}
	return task, nil
}

const completeQuery = `DELETE FROM tasks WHERE id = $1`

// Complete removes a delivered task.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, completeQuery, id); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

const retryQuery = `
	UPDATE tasks
	SET leased_until = NULL, not_before = now() + $2::interval
	WHERE id = $1`

// Retry releases a task's lease and holds it back for the given delay.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	if _, err := q.db.ExecContext(ctx, retryQuery, id, pgInterval(delay)); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}
