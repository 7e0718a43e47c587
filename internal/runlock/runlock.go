package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/feedloader/internal/platform/objectstore"
)

const (
	// TriggerName is the empty object whose upload signals that all feed
	// files for a run have been uploaded.
	TriggerName = "EOF"
	// RetryTriggerName signals a re-ingestion of previously missing files.
	// A retry implies a previous run already locked, so the retry path must
	// not attempt to acquire again.
	RetryTriggerName = "EOF.retry"
	// LockName marks a run in progress. Its presence is the only signal.
	LockName = "EOF.lock"
)

// ErrLockHeld reports that another run holds the lock.
var ErrLockHeld = errors.New("run lock is held")

// Lock serializes pipeline runs through a marker object in the lock bucket.
type Lock struct {
	store  objectstore.Store
	bucket string
	logger *slog.Logger
}

func New(store objectstore.Store, bucket string, logger *slog.Logger) *Lock {
	if store == nil || strings.TrimSpace(bucket) == "" || logger == nil {
		return nil
	}
	return &Lock{store: store, bucket: bucket, logger: logger}
}

func (l *Lock) Exists(ctx context.Context) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("run lock not initialized")
	}
	_, err := l.store.Stat(ctx, l.bucket, LockName)
	if errors.Is(err, objectstore.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat lock: %w", err)
	}
	return true, nil
}

// Acquire atomically creates the lock object, then consumes the trigger
// object that started the run. The conditional create makes two concurrent
// acquirers impossible: exactly one create succeeds, the other observes
// ErrLockHeld.
func (l *Lock) Acquire(ctx context.Context, triggerBucket, triggerName string) error {
	if l == nil {
		return fmt.Errorf("run lock not initialized")
	}
	err := l.store.PutIfAbsent(ctx, l.bucket, LockName, strings.NewReader(""), 0, "application/octet-stream")
	if errors.Is(err, objectstore.ErrExists) {
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("create lock: %w", err)
	}
	if err := l.store.Remove(ctx, triggerBucket, triggerName); err != nil {
		// The lock is in place; a stale trigger object only affects the
		// next notification, so log rather than fail the run.
		l.logger.Error("failed to remove trigger after locking",
			"bucket", triggerBucket, "object", triggerName, "error", err)
	}
	return nil
}

// Release deletes the lock object. Releasing an absent lock is not an
// error: every exit path calls Release, including paths that never
// acquired.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("run lock not initialized")
	}
	if err := l.store.Remove(ctx, l.bucket, LockName); err != nil {
		if errors.Is(err, objectstore.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove lock: %w", err)
	}
	l.logger.Info("run lock released", "bucket", l.bucket, "object", LockName)
	return nil
}

// IsRetryTrigger reports whether the named trigger bypasses the lock
// acquisition step.
func IsRetryTrigger(name string) bool {
	return name == RetryTriggerName
}
