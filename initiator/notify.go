package main

import (
	"context"
	"strings"

	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/platform/objectstore"
	"github.com/google/feedloader/internal/runlock"
	"github.com/google/feedloader/internal/taskqueue"
)

// completionMonitor signals the downstream result watcher by writing the
// trigger object into its bucket.
type completionMonitor struct {
	store  objectstore.Store
	bucket string
}

func (m completionMonitor) TriggerCompletion(ctx context.Context, timestamp string) error {
	return m.store.Put(ctx, m.bucket, runlock.TriggerName, strings.NewReader(timestamp), int64(len(timestamp)), "text/plain")
}

// QueueMailer is the queue carrying run report notifications for the
// external mailer service.
const QueueMailer = "mailer"

const mailerNotifyPath = "/notify"

// queueMailer hands zero-dispatch notifications to the mailer queue. The
// mailer consumes its queue itself, so the delivery runner leaves it alone.
type queueMailer struct {
	queue *taskqueue.Queue
}

type mailerNotification struct {
	Status        string `json:"status"`
	DeleteCount   int64  `json:"deleteCount"`
	ExpiringCount int64  `json:"expiringCount"`
	UpsertCount   int64  `json:"upsertCount"`
}

func (m queueMailer) NotifyNothingToDispatch(ctx context.Context, start domain.RunStart) error {
	return m.queue.EnqueueJSON(ctx, QueueMailer, mailerNotifyPath, mailerNotification{
		Status:        "nothing to dispatch",
		DeleteCount:   start.DeleteCount,
		ExpiringCount: start.ExpiringCount,
		UpsertCount:   start.UpsertCount,
	})
}
