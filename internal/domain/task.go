package domain

import (
	"errors"
	"strconv"
)

// RunStart is the payload handed from the change calculation to the
// initiator: how many items each category staged for this run.
type RunStart struct {
	DeleteCount   int64 `json:"deleteCount"`
	ExpiringCount int64 `json:"expiringCount"`
	UpsertCount   int64 `json:"upsertCount"`
}

func (r RunStart) Validate() error {
	if r.DeleteCount < 0 || r.ExpiringCount < 0 || r.UpsertCount < 0 {
		return errors.New("counts must be non-negative")
	}
	return nil
}

func (r RunStart) Empty() bool {
	return r.DeleteCount == 0 && r.ExpiringCount == 0 && r.UpsertCount == 0
}

// UploadTask is one batch descriptor: the half-open row window
// [StartIndex, StartIndex+BatchSize) of a category's processing table.
type UploadTask struct {
	StartIndex int64   `json:"start_index"`
	BatchSize  int64   `json:"batch_size"`
	Timestamp  string  `json:"timestamp"`
	Channel    Channel `json:"channel"`
}

func (t UploadTask) Validate() error {
	if t.StartIndex < 0 {
		return errors.New("start_index must be non-negative")
	}
	if t.BatchSize < 0 {
		return errors.New("batch_size must be non-negative")
	}
	if t.Timestamp == "" {
		return errors.New("timestamp is required")
	}
	return nil
}

// BatchNumber identifies the batch within its run, starting at 1.
func (t UploadTask) BatchNumber() int {
	if t.BatchSize == 0 {
		return 1
	}
	return int(t.StartIndex/t.BatchSize) + 1
}

// ExecutionAttempt is the delivery counter supplied by the queue runtime.
// A request that did not come through the queue carries no counter; such a
// task must never be retried, so an unknown attempt reports as exhausted.
type ExecutionAttempt struct {
	count int
	known bool
}

func AttemptFromHeader(header string) ExecutionAttempt {
	if header == "" {
		return ExecutionAttempt{}
	}
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return ExecutionAttempt{}
	}
	return ExecutionAttempt{count: n, known: true}
}

// RetriesLeft reports whether the queue runtime will redeliver this task if
// the current attempt fails with a retryable status.
func (a ExecutionAttempt) RetriesLeft(limit int) bool {
	return a.known && a.count < limit
}

func (a ExecutionAttempt) Count() int {
	return a.count
}
