package domain

import "fmt"

// Channel is the catalog sub-audience a batch targets.
type Channel string

const (
	ChannelOnline Channel = "online"
	ChannelLocal  Channel = "local"
)

const (
	// QueueProcessingItems is the delivery queue for online-channel tasks.
	QueueProcessingItems = "processing-items"
	// QueueProcessingItemsLocal is the delivery queue for local-channel tasks.
	QueueProcessingItemsLocal = "processing-items-local"
)

// ChannelForQueue maps the logical queue a task was delivered on to its
// target channel. Unrecognized queues fall back to online, matching the
// single-channel default configuration.
func ChannelForQueue(queueName string) Channel {
	switch queueName {
	case QueueProcessingItemsLocal:
		return ChannelLocal
	default:
		return ChannelOnline
	}
}

// QueueName is the delivery queue carrying this channel's tasks.
func (c Channel) QueueName() string {
	if c == ChannelLocal {
		return QueueProcessingItemsLocal
	}
	return QueueProcessingItems
}

// Failure records one item the catalog API rejected and why.
type Failure struct {
	ItemID string
	Error  string
}

// ProcessResult accounts for every item loaded for a batch: each one is
// either successfully submitted, failed, or skipped before submission.
type ProcessResult struct {
	SucceededItemIDs []string
	Failures         []Failure
	SkippedItemIDs   []string
}

func (r ProcessResult) SuccessCount() int { return len(r.SucceededItemIDs) }
func (r ProcessResult) FailureCount() int { return len(r.Failures) }
func (r ProcessResult) SkippedCount() int { return len(r.SkippedItemIDs) }

func (r ProcessResult) Total() int {
	return r.SuccessCount() + r.FailureCount() + r.SkippedCount()
}

// CountsString renders the counts for logging when recording to the result
// tables fails and the log line is the only remaining record.
func (r ProcessResult) CountsString() string {
	return fmt.Sprintf("success: %d, failure: %d, skipped: %d",
		r.SuccessCount(), r.FailureCount(), r.SkippedCount())
}

// FailAll marks every given item as failed with the same reason. Used when
// a whole batch call fails before per-item outcomes exist.
func FailAll(itemIDs []string, reason string) ProcessResult {
	failures := make([]Failure, 0, len(itemIDs))
	for _, id := range itemIDs {
		failures = append(failures, Failure{ItemID: id, Error: reason})
	}
	return ProcessResult{Failures: failures}
}
