package domain

import "testing"

func TestOperationMethod(t *testing.T) {
	if got := OperationUpsert.Method(); got != MethodInsert {
		t.Fatalf("upsert method=%s, want insert", got)
	}
	if got := OperationDelete.Method(); got != MethodDelete {
		t.Fatalf("delete method=%s, want delete", got)
	}
	if got := OperationPreventExpiring.Method(); got != MethodInsert {
		t.Fatalf("prevent_expiring method=%s, want insert", got)
	}
}

func TestOperationTargetURL(t *testing.T) {
	cases := map[Operation]string{
		OperationUpsert:          "/insert_items",
		OperationDelete:          "/delete_items",
		OperationPreventExpiring: "/prevent_expiring_items",
	}
	for op, want := range cases {
		if got := op.TargetURL(); got != want {
			t.Fatalf("%s url=%q, want %q", op, got, want)
		}
	}
}

func TestParseOperationRejectsUnknown(t *testing.T) {
	if _, err := ParseOperation("truncate"); err == nil {
		t.Fatalf("ParseOperation() expected error for unknown operation")
	}
}

func TestUploadTaskBatchNumber(t *testing.T) {
	task := UploadTask{StartIndex: 2000, BatchSize: 1000, Timestamp: "20260831120000"}
	if got := task.BatchNumber(); got != 3 {
		t.Fatalf("BatchNumber()=%d, want 3", got)
	}
	zero := UploadTask{Timestamp: "20260831120000"}
	if got := zero.BatchNumber(); got != 1 {
		t.Fatalf("BatchNumber()=%d, want 1 for zero batch size", got)
	}
}

func TestRunStartValidate(t *testing.T) {
	if err := (RunStart{DeleteCount: -1}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for negative count")
	}
	if !(RunStart{}).Empty() {
		t.Fatalf("Empty() expected true for zero counts")
	}
}

func TestAttemptFromHeader(t *testing.T) {
	if AttemptFromHeader("").RetriesLeft(5) {
		t.Fatalf("absent header must report no retries left")
	}
	if AttemptFromHeader("garbage").RetriesLeft(5) {
		t.Fatalf("malformed header must report no retries left")
	}
	if !AttemptFromHeader("4").RetriesLeft(5) {
		t.Fatalf("attempt 4 of limit 5 must have retries left")
	}
	if AttemptFromHeader("5").RetriesLeft(5) {
		t.Fatalf("attempt 5 of limit 5 must be exhausted")
	}
}

func TestProcessResultCounts(t *testing.T) {
	result := ProcessResult{
		SucceededItemIDs: []string{"a", "b"},
		Failures:         []Failure{{ItemID: "c", Error: "quota"}},
		SkippedItemIDs:   []string{"d"},
	}
	if result.Total() != 4 {
		t.Fatalf("Total()=%d, want 4", result.Total())
	}
	if result.SuccessCount() != 2 || result.FailureCount() != 1 || result.SkippedCount() != 1 {
		t.Fatalf("unexpected counts: %s", result.CountsString())
	}
}

func TestFailAll(t *testing.T) {
	result := FailAll([]string{"a", "b"}, "Internal Server Error")
	if result.FailureCount() != 2 || result.SuccessCount() != 0 || result.SkippedCount() != 0 {
		t.Fatalf("FailAll() counts wrong: %s", result.CountsString())
	}
	if result.Failures[1].Error != "Internal Server Error" {
		t.Fatalf("FailAll() reason=%q", result.Failures[1].Error)
	}
}

func TestChannelForQueue(t *testing.T) {
	if got := ChannelForQueue("processing-items-local"); got != ChannelLocal {
		t.Fatalf("ChannelForQueue(local queue)=%s, want local", got)
	}
	if got := ChannelForQueue("processing-items"); got != ChannelOnline {
		t.Fatalf("ChannelForQueue(default queue)=%s, want online", got)
	}
}

func TestChannelQueueNameRoundTrips(t *testing.T) {
	for _, channel := range []Channel{ChannelOnline, ChannelLocal} {
		if got := ChannelForQueue(channel.QueueName()); got != channel {
			t.Fatalf("ChannelForQueue(%q)=%s, want %s", channel.QueueName(), got, channel)
		}
	}
}
