// Package verifier reconciles the set of uploaded feed files against the
// set the ingestion collaborator confirmed, and raises a reprocess trigger
// for anything missing.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/feedloader/internal/platform/objectstore"
)

// RetriggerObjectName is the object the re-ingestion collaborator watches.
// Its payload is the newline-joined list of missing filenames.
const RetriggerObjectName = "REPROCESS_TRIGGER_FILE"

// ErrEmptyListing reports that a bucket listing returned zero objects.
// An empty listing is indistinguishable from a failed one, so it is
// treated as an infrastructure failure rather than "nothing to verify".
var ErrEmptyListing = errors.New("bucket listing returned no objects")

type Verifier struct {
	store           objectstore.Store
	feedBucket      string
	completedBucket string
	retriggerBucket string
	logger          *slog.Logger
}

// Report is the outcome of a completeness check. AllPresent false with an
// empty Missing set never occurs; that case surfaces as ErrEmptyListing.
type Report struct {
	AllPresent bool
	Missing    []string
}

func New(store objectstore.Store, feedBucket, completedBucket, retriggerBucket string, logger *slog.Logger) *Verifier {
	if store == nil || logger == nil {
		return nil
	}
	return &Verifier{
		store:           store,
		feedBucket:      feedBucket,
		completedBucket: completedBucket,
		retriggerBucket: retriggerBucket,
		logger:          logger,
	}
}

// Check lists the attempted and confirmed filename sets and computes
// attempted \ confirmed.
func (v *Verifier) Check(ctx context.Context) (Report, error) {
	if v == nil {
		return Report{}, fmt.Errorf("verifier not initialized")
	}
	attempted, err := v.store.List(ctx, v.feedBucket)
	if err != nil {
		return Report{}, fmt.Errorf("list feed bucket: %w", err)
	}
	if len(attempted) == 0 {
		return Report{}, fmt.Errorf("feed bucket %s: %w", v.feedBucket, ErrEmptyListing)
	}

	completed, err := v.store.List(ctx, v.completedBucket)
	if err != nil {
		return Report{}, fmt.Errorf("list completed bucket: %w", err)
	}
	if len(completed) == 0 {
		return Report{}, fmt.Errorf("completed bucket %s: %w", v.completedBucket, ErrEmptyListing)
	}

	confirmed := make(map[string]struct{}, len(completed))
	for _, name := range completed {
		confirmed[name] = struct{}{}
	}

	var missing []string
	for _, name := range attempted {
		if _, ok := confirmed[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Report{AllPresent: false, Missing: missing}, nil
	}
	return Report{AllPresent: true}, nil
}

// TriggerReupload writes the reprocess trigger naming every missing file.
// The run aborts after this; re-ingestion re-signals completion on its own.
func (v *Verifier) TriggerReupload(ctx context.Context, missing []string) error {
	if v == nil {
		return fmt.Errorf("verifier not initialized")
	}
	if len(missing) == 0 {
		return nil
	}
	payload := strings.Join(missing, "\n")
	err := v.store.Put(ctx, v.retriggerBucket, RetriggerObjectName,
		strings.NewReader(payload), int64(len(payload)), "text/plain")
	if err != nil {
		return fmt.Errorf("write reprocess trigger: %w", err)
	}
	v.logger.Info("reprocess trigger written",
		"bucket", v.retriggerBucket, "missing_files", len(missing))
	return nil
}

// CleanupCompleted deletes every confirmation marker so the next run starts
// from an empty confirmed set. Returns the number of markers removed.
func (v *Verifier) CleanupCompleted(ctx context.Context) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("verifier not initialized")
	}
	names, err := v.store.List(ctx, v.completedBucket)
	if err != nil {
		return 0, fmt.Errorf("list completed bucket: %w", err)
	}
	for _, name := range names {
		if err := v.store.Remove(ctx, v.completedBucket, name); err != nil {
			return 0, fmt.Errorf("remove completed marker %s: %w", name, err)
		}
	}
	return len(names), nil
}
