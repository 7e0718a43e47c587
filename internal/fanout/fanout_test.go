package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"

	"github.com/google/feedloader/internal/domain"
)

type recordingQueue struct {
	tasks   map[domain.Operation][]domain.UploadTask
	failOn  domain.Operation
	failErr error
}

func (q *recordingQueue) Enqueue(_ context.Context, op domain.Operation, task domain.UploadTask) error {
	if op == q.failOn && q.failErr != nil {
		return q.failErr
	}
	if q.tasks == nil {
		q.tasks = make(map[domain.Operation][]domain.UploadTask)
	}
	q.tasks[op] = append(q.tasks[op], task)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatchPartitionsExactly(t *testing.T) {
	q := &recordingQueue{}
	d := NewDispatcher(q, 1000, discard())

	n, err := d.Dispatch(context.Background(), domain.RunStart{UpsertCount: 2500}, "20260831120000", domain.ChannelOnline)
	if err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if n != 3 {
		t.Fatalf("Dispatch() = %d tasks, want 3", n)
	}

	tasks := q.tasks[domain.OperationUpsert]
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].StartIndex < tasks[j].StartIndex })

	for i, task := range tasks {
		if want := int64(i) * 1000; task.StartIndex != want {
			t.Fatalf("task %d starts at %d, want %d: windows must tile without gaps", i, task.StartIndex, want)
		}
		if task.BatchSize != 1000 {
			t.Fatalf("task %d size = %d, want 1000: batch numbering needs a constant size", i, task.BatchSize)
		}
		if task.Timestamp != "20260831120000" || task.Channel != domain.ChannelOnline {
			t.Fatalf("task %d = %+v, wrong run metadata", i, task)
		}
		if got := task.BatchNumber(); got != i+1 {
			t.Fatalf("task %d batch number = %d, want %d", i, got, i+1)
		}
	}
}

func TestDispatchSkipsZeroCategories(t *testing.T) {
	q := &recordingQueue{}
	d := NewDispatcher(q, 1000, discard())

	n, err := d.Dispatch(context.Background(), domain.RunStart{DeleteCount: 1}, "20260831120000", domain.ChannelLocal)
	if err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if n != 1 {
		t.Fatalf("Dispatch() = %d tasks, want 1", n)
	}
	if len(q.tasks[domain.OperationUpsert]) != 0 || len(q.tasks[domain.OperationPreventExpiring]) != 0 {
		t.Fatalf("Dispatch() enqueued tasks for empty categories: %v", q.tasks)
	}
}

func TestDispatchNothingToDo(t *testing.T) {
	q := &recordingQueue{}
	d := NewDispatcher(q, 1000, discard())
	n, err := d.Dispatch(context.Background(), domain.RunStart{}, "20260831120000", domain.ChannelOnline)
	if err != nil {
		t.Fatalf("Dispatch() err=%v", err)
	}
	if n != 0 {
		t.Fatalf("Dispatch() = %d tasks, want 0", n)
	}
}

func TestDispatchStopsOnEnqueueFailure(t *testing.T) {
	q := &recordingQueue{failOn: domain.OperationDelete, failErr: errors.New("queue down")}
	d := NewDispatcher(q, 10, discard())
	if _, err := d.Dispatch(context.Background(), domain.RunStart{DeleteCount: 25}, "20260831120000", domain.ChannelOnline); err == nil {
		t.Fatal("Dispatch() err=nil, want enqueue failure")
	}
}
