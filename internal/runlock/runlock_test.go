package runlock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/feedloader/internal/platform/objectstore/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireCreatesLockAndConsumesTrigger(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	if err := store.Put(ctx, "triggers", TriggerName, strings.NewReader(""), 0, ""); err != nil {
		t.Fatalf("seed trigger: %v", err)
	}

	lock := New(store, "locks", testLogger())
	if err := lock.Acquire(ctx, "triggers", TriggerName); err != nil {
		t.Fatalf("Acquire() err=%v", err)
	}
	if !store.Exists("locks", LockName) {
		t.Fatalf("expected lock object after acquire")
	}
	if store.Exists("triggers", TriggerName) {
		t.Fatalf("expected trigger object to be consumed")
	}

	held, err := lock.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists() err=%v", err)
	}
	if !held {
		t.Fatalf("Exists()=false, want true")
	}
}

func TestAcquireFailsWhenHeld(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	lock := New(store, "locks", testLogger())
	if err := lock.Acquire(ctx, "triggers", TriggerName); err != nil {
		t.Fatalf("first Acquire() err=%v", err)
	}
	if err := lock.Acquire(ctx, "triggers", TriggerName); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second Acquire() err=%v, want ErrLockHeld", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	lock := New(store, "locks", testLogger())

	// Releasing a lock that was never acquired must not fail.
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() on absent lock err=%v", err)
	}

	if err := lock.Acquire(ctx, "triggers", TriggerName); err != nil {
		t.Fatalf("Acquire() err=%v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() err=%v", err)
	}
	if store.Exists("locks", LockName) {
		t.Fatalf("expected lock object gone after release")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("repeat Release() err=%v", err)
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	lock := New(store, "locks", testLogger())
	if err := lock.Acquire(ctx, "triggers", TriggerName); err != nil {
		t.Fatalf("Acquire() err=%v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() err=%v", err)
	}
	if err := lock.Acquire(ctx, "triggers", TriggerName); err != nil {
		t.Fatalf("Acquire() after release err=%v", err)
	}
}

func TestIsRetryTrigger(t *testing.T) {
	if !IsRetryTrigger(RetryTriggerName) {
		t.Fatalf("IsRetryTrigger(%q)=false, want true", RetryTriggerName)
	}
	if IsRetryTrigger(TriggerName) {
		t.Fatalf("IsRetryTrigger(%q)=true, want false", TriggerName)
	}
}
