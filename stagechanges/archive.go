package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/feedloader/internal/platform/objectstore"
	"github.com/google/feedloader/internal/runlock"
)

// feedArchiver moves consumed feed files out of the feed bucket into a
// per-run folder of the archive bucket, so the next upload starts against
// an empty feed bucket and old runs stay inspectable.
type feedArchiver struct {
	store         objectstore.Store
	feedBucket    string
	archiveBucket string
	logger        *slog.Logger
}

// Archive copies every feed object to <timestamp>/<name> and removes the
// original. Trigger objects are consumed elsewhere and never archived.
func (a feedArchiver) Archive(ctx context.Context, timestamp string) (int, error) {
	names, err := a.store.List(ctx, a.feedBucket)
	if err != nil {
		return 0, fmt.Errorf("list feed bucket: %w", err)
	}
	archived := 0
	for _, name := range names {
		if name == runlock.TriggerName || name == runlock.RetryTriggerName {
			continue
		}
		dst := timestamp + "/" + name
		if err := a.store.Copy(ctx, a.archiveBucket, dst, a.feedBucket, name); err != nil {
			return archived, fmt.Errorf("archive %s: %w", name, err)
		}
		if err := a.store.Remove(ctx, a.feedBucket, name); err != nil {
			return archived, fmt.Errorf("remove archived %s: %w", name, err)
		}
		archived++
	}
	a.logger.Info("feed files archived", "count", archived, "folder", timestamp)
	return archived, nil
}
