package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/google/feedloader/internal/taskqueue"
)

// Headers stamped on every delivery so receivers can tell how often a task
// has been tried and which queue carried it.
const (
	headerExecutionCount = "X-Task-Execution-Count"
	headerQueueName      = "X-Task-Queue-Name"
)

// Leaser is the queue surface the runner drives.
type Leaser interface {
	Lease(ctx context.Context, lease time.Duration, queues ...string) (taskqueue.Task, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, delay time.Duration) error
}

type RunnerConfig struct {
	// Queues this runner delivers. Queues with external consumers are not
	// listed and never leased.
	Queues []string
	// InitiatorURL and UploaderURL are the delivery targets; run
	// coordination tasks go to the initiator, everything else to the
	// uploader.
	InitiatorURL string
	UploaderURL  string

	LeaseDuration  time.Duration
	PollInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RetryLimit is how many redeliveries a task gets after its first
	// attempt before the runner drops it.
	RetryLimit int
}

func (c RunnerConfig) Validate() error {
	if len(c.Queues) == 0 {
		return errors.New("taskrunner: at least one queue is required")
	}
	if c.InitiatorURL == "" || c.UploaderURL == "" {
		return errors.New("taskrunner: delivery target URLs are required")
	}
	if c.LeaseDuration <= 0 || c.PollInterval <= 0 {
		return errors.New("taskrunner: lease duration and poll interval must be positive")
	}
	return nil
}

type Runner struct {
	queue  Leaser
	http   *http.Client
	cfg    RunnerConfig
	logger *slog.Logger
}

func NewRunner(queue Leaser, client *http.Client, cfg RunnerConfig, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{queue: queue, http: client, cfg: cfg, logger: logger}, nil
}

// Run leases and delivers tasks until the context ends. An empty queue
// backs the polling off up to the configured interval; any activity resets
// it.
func (r *Runner) Run(ctx context.Context) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = 100 * time.Millisecond
	idle.MaxInterval = r.cfg.PollInterval

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := r.queue.Lease(ctx, r.cfg.LeaseDuration, r.cfg.Queues...)
		if errors.Is(err, taskqueue.ErrNoTask) {
			r.sleep(ctx, idle.NextBackOff())
			continue
		}
		if err != nil {
			r.logger.Error("lease failed", "error", err)
			r.sleep(ctx, idle.NextBackOff())
			continue
		}
		idle.Reset()
		r.deliver(ctx, task)
	}
}

func (r *Runner) deliver(ctx context.Context, task taskqueue.Task) {
	log := r.logger.With(
		"task_id", task.ID.String(),
		"queue", task.Queue,
		"target", task.TargetPath,
		"attempt", task.Attempt)

	status, err := r.post(ctx, task)
	if err == nil && status/100 == 2 {
		if err := r.queue.Complete(ctx, task.ID); err != nil {
			log.Error("completing delivered task failed", "error", err)
		}
		return
	}

	if task.Attempt > r.cfg.RetryLimit {
		log.Error("retry limit reached, dropping task", "status", status, "error", err)
		if err := r.queue.Complete(ctx, task.ID); err != nil {
			log.Error("dropping exhausted task failed", "error", err)
		}
		return
	}

	delay := r.redeliveryDelay(task.Attempt)
	log.Warn("delivery failed, scheduling redelivery", "status", status, "delay", delay, "error", err)
	if err := r.queue.Retry(ctx, task.ID, delay); err != nil {
		log.Error("scheduling redelivery failed", "error", err)
	}
}

func (r *Runner) post(ctx context.Context, task taskqueue.Task) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.targetURL(task.TargetPath), bytes.NewReader(task.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerExecutionCount, strconv.Itoa(task.Attempt-1))
	req.Header.Set(headerQueueName, task.Queue)

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (r *Runner) targetURL(targetPath string) string {
	if targetPath == taskqueue.RunStartPath {
		return r.cfg.InitiatorURL + targetPath
	}
	return r.cfg.UploaderURL + targetPath
}

// redeliveryDelay grows exponentially with the attempt number. The backoff
// state cannot live across leases, so it is replayed per call.
func (r *Runner) redeliveryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.BackoffInitial > 0 {
		bo.InitialInterval = r.cfg.BackoffInitial
	}
	if r.cfg.BackoffMax > 0 {
		bo.MaxInterval = r.cfg.BackoffMax
	}
	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
