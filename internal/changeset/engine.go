package changeset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/feedloader/internal/domain"
	"github.com/google/feedloader/internal/feedconfig"
)

// QueryEngine is the slice of a SQL database the engine needs. It exists so
// tests can exercise the diff policy without a live server.
type QueryEngine interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Count(ctx context.Context, query string, args ...any) (int64, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

// Config tunes the diff policy.
type Config struct {
	// DeletesThreshold caps how many deletes a single run may dispatch.
	// Zero disables the cap.
	DeletesThreshold int64
	// UpsertsThreshold caps how many upserts a single run may dispatch.
	// Zero disables the cap.
	UpsertsThreshold int64
	// ExpirationAgeDays is how long an item may go untouched before it is
	// re-sent to keep it from expiring.
	ExpirationAgeDays int
}

// Engine computes the per-run changeset: which items to delete, upsert, and
// refresh, as counts over staging tables the uploader later pages through.
type Engine struct {
	db     QueryEngine
	feed   feedconfig.Config
	cfg    Config
	logger *slog.Logger
}

func NewEngine(db QueryEngine, feed feedconfig.Config, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, feed: feed, cfg: cfg, logger: logger}
}

// TablesExist reports whether the live items table and the snapshot table
// are both present. A run cannot start without them.
func (e *Engine) TablesExist(ctx context.Context) (bool, error) {
	for _, table := range []string{liveItemsTable, snapshotTable} {
		ok, err := e.db.TableExists(ctx, table)
		if err != nil {
			return false, fmt.Errorf("table %s: %w", table, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Compute appends this run's snapshot, materializes the delete/upsert/expiring
// staging tables, and returns their counts.
//
// Failures zero out rather than abort: a category whose count cannot be
// trusted is dispatched as zero, because sending an unknown number of
// mutations is worse than sending none. When the upsert count is zeroed
// after the snapshot was already appended, the snapshot is rolled back so
// the next run re-detects the same items.
func (e *Engine) Compute(ctx context.Context, runTime time.Time) (domain.RunStart, error) {
	if e == nil || e.db == nil {
		return domain.RunStart{}, errors.New("changeset: engine not initialized")
	}

	for _, q := range []string{truncateDeletes, truncateUpserts, truncateExpirations} {
		if _, err := e.db.Exec(ctx, q); err != nil {
			return domain.RunStart{}, fmt.Errorf("reset staging: %w", err)
		}
	}

	if _, err := e.db.Exec(ctx, e.appendSnapshotSQL(), runTime); err != nil {
		return domain.RunStart{}, fmt.Errorf("append snapshot: %w", err)
	}

	var start domain.RunStart
	start.DeleteCount = e.materialize(ctx, "deletes", materializeDeletesQuery, countDeletesQuery)

	upserts, snapshotLive := e.materializeUpserts(ctx)
	start.UpsertCount = upserts

	start.ExpiringCount = e.materializeExpiring(ctx)

	if e.cfg.DeletesThreshold > 0 && start.DeleteCount > e.cfg.DeletesThreshold {
		e.logger.Warn("delete count over threshold, suppressing deletes",
			"count", start.DeleteCount, "threshold", e.cfg.DeletesThreshold)
		start.DeleteCount = 0
	}
	if e.cfg.UpsertsThreshold > 0 && start.UpsertCount > e.cfg.UpsertsThreshold {
		e.logger.Warn("upsert count over threshold, suppressing upserts",
			"count", start.UpsertCount, "threshold", e.cfg.UpsertsThreshold)
		start.UpsertCount = 0
		snapshotLive = false
	}

	if !snapshotLive {
		if _, err := e.db.Exec(ctx, rollbackSnapshotQuery); err != nil {
			e.logger.Error("snapshot rollback failed, next run may miss updates", "error", err)
		}
	}

	return start, nil
}

// materialize runs one staging insert and returns the category count. Any
// failure logs and returns zero so the category is skipped this run.
func (e *Engine) materialize(ctx context.Context, name, insertQuery, countQuery string, args ...any) int64 {
	if _, err := e.db.Exec(ctx, insertQuery, args...); err != nil {
		e.logger.Error("materialize failed, dispatching zero", "category", name, "error", err)
		return 0
	}
	n, err := e.db.Count(ctx, countQuery)
	if err != nil {
		e.logger.Error("count failed, dispatching zero", "category", name, "error", err)
		return 0
	}
	return n
}

// materializeUpserts stages updates then inserts. The second return value
// reports whether the snapshot append should stand: when upserts are zeroed
// by failure the snapshot must be rolled back, or the changed items would
// never be re-detected.
func (e *Engine) materializeUpserts(ctx context.Context) (int64, bool) {
	updatesQuery := fmt.Sprintf(materializeUpdatesQuery, e.feed.HashExpression(liveItemsTable))
	if _, err := e.db.Exec(ctx, updatesQuery); err != nil {
		e.logger.Error("materialize failed, dispatching zero", "category", "updates", "error", err)
		return 0, false
	}
	if _, err := e.db.Exec(ctx, materializeInsertsQuery); err != nil {
		e.logger.Error("materialize failed, dispatching zero", "category", "inserts", "error", err)
		return 0, false
	}
	n, err := e.db.Count(ctx, countUpsertsQuery)
	if err != nil {
		e.logger.Error("count failed, dispatching zero", "category", "upserts", "error", err)
		return 0, false
	}
	return n, true
}

func (e *Engine) materializeExpiring(ctx context.Context) int64 {
	ok, err := e.db.TableExists(ctx, expirationTracking)
	if err != nil || !ok {
		if err != nil {
			e.logger.Error("expiration tracking lookup failed, dispatching zero", "error", err)
		}
		return 0
	}
	return e.materialize(ctx, "expiring", materializeExpiringQuery, countExpiringQuery, e.cfg.ExpirationAgeDays)
}

func (e *Engine) appendSnapshotSQL() string {
	merchant := "NULL"
	if e.feed.HasMerchantID() {
		merchant = fmt.Sprintf("%s.%s", liveItemsTable, feedconfig.MerchantIDColumn)
	}
	return fmt.Sprintf(appendSnapshotQuery, merchant, e.feed.HashExpression(liveItemsTable))
}
