package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/feedloader/internal/contentapi"
	"github.com/google/feedloader/internal/domain"
)

type fakeLoader struct {
	rows []domain.ItemRow
	err  error
}

func (f *fakeLoader) LoadWindow(_ context.Context, _ domain.Operation, _ string, startIndex, batchSize int64) ([]domain.ItemRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if startIndex < 0 || batchSize <= 0 {
		return nil, fmt.Errorf("bad window [%d, %d)", startIndex, startIndex+batchSize)
	}
	return f.rows, nil
}

type fakeSubmitter struct {
	result  domain.ProcessResult
	err     error
	calls   int
	channel domain.Channel
}

func (f *fakeSubmitter) Submit(_ context.Context, _ domain.Operation, rows []domain.ItemRow, channel domain.Channel) (domain.ProcessResult, error) {
	f.calls++
	f.channel = channel
	return f.result, f.err
}

type fakeSink struct {
	records []domain.ProcessResult
}

func (f *fakeSink) Record(_ context.Context, _ domain.Operation, _ domain.UploadTask, result domain.ProcessResult) {
	f.records = append(f.records, result)
}

func rows(ids ...string) []domain.ItemRow {
	out := make([]domain.ItemRow, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ItemRow{"item_id": id, "title": "t"})
	}
	return out
}

func newTestServer(loader ItemLoader, submitter Submitter, sink ResultSink) *httptest.Server {
	uploader := &batchUploader{
		loader:     loader,
		submitter:  submitter,
		results:    sink,
		retryLimit: DefaultTaskRetryLimit,
		logger:     slog.New(slog.DiscardHandler),
	}
	mux := http.NewServeMux()
	newUploaderAPI(slog.New(slog.DiscardHandler), uploader).register(mux)
	return httptest.NewServer(mux)
}

func postTask(t *testing.T, server *httptest.Server, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() err=%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do() err=%v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const taskBody = `{"start_index":0,"batch_size":2,"timestamp":"20260831120000","channel":"online"}`

func TestBatchUploadRecordsOutcome(t *testing.T) {
	submitter := &fakeSubmitter{result: domain.ProcessResult{
		SucceededItemIDs: []string{"a"},
		Failures:         []domain.Failure{{ItemID: "b", Error: "invalid"}},
	}}
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{rows: rows("a", "b")}, submitter, sink)
	defer server.Close()

	resp := postTask(t, server, "/insert_items", taskBody, map[string]string{"X-Task-Execution-Count": "0"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(sink.records) != 1 {
		t.Fatalf("recorded %d results, want exactly 1", len(sink.records))
	}
	if got := sink.records[0]; got.Total() != 2 {
		t.Fatalf("recorded %d outcomes, want every loaded row accounted for", got.Total())
	}
}

func TestBatchUploadRetryableFailureLeavesTaskForRedelivery(t *testing.T) {
	submitter := &fakeSubmitter{err: &contentapi.HTTPError{StatusCode: http.StatusInternalServerError}}
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{rows: rows("a")}, submitter, sink)
	defer server.Close()

	resp := postTask(t, server, "/insert_items", taskBody, map[string]string{"X-Task-Execution-Count": "1"})
	if resp.StatusCode == http.StatusOK {
		t.Fatal("status = 200, want failure so the queue redelivers")
	}
	if len(sink.records) != 0 {
		t.Fatalf("recorded %d results, want none before the final attempt", len(sink.records))
	}
}

func TestBatchUploadExhaustedRetriesFailsAllItems(t *testing.T) {
	submitter := &fakeSubmitter{err: &contentapi.HTTPError{StatusCode: http.StatusInternalServerError}}
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{rows: rows("a", "b")}, submitter, sink)
	defer server.Close()

	resp := postTask(t, server, "/insert_items", taskBody, map[string]string{"X-Task-Execution-Count": "5"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the queue stops redelivering", resp.StatusCode)
	}
	if len(sink.records) != 1 || sink.records[0].FailureCount() != 2 {
		t.Fatalf("records = %v, want both items failed", sink.records)
	}
}

func TestBatchUploadMissingAttemptHeaderNeverRetries(t *testing.T) {
	submitter := &fakeSubmitter{err: &contentapi.HTTPError{StatusCode: http.StatusTooManyRequests}}
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{rows: rows("a")}, submitter, sink)
	defer server.Close()

	resp := postTask(t, server, "/insert_items", taskBody, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: no attempt counter means no redelivery", resp.StatusCode)
	}
	if len(sink.records) != 1 || sink.records[0].FailureCount() != 1 {
		t.Fatalf("records = %v, want the item failed immediately", sink.records)
	}
}

func TestBatchUploadPermanentFailureRecordsImmediately(t *testing.T) {
	submitter := &fakeSubmitter{err: &contentapi.HTTPError{StatusCode: http.StatusBadRequest}}
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{rows: rows("a")}, submitter, sink)
	defer server.Close()

	resp := postTask(t, server, "/delete_items", taskBody, map[string]string{"X-Task-Execution-Count": "0"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a permanent failure", resp.StatusCode)
	}
	if len(sink.records) != 1 || sink.records[0].FailureCount() != 1 {
		t.Fatalf("records = %v, want the item failed on first attempt", sink.records)
	}
}

func TestBatchUploadEmptyWindowFails(t *testing.T) {
	sink := &fakeSink{}
	server := newTestServer(&fakeLoader{}, &fakeSubmitter{}, sink)
	defer server.Close()

	resp := postTask(t, server, "/insert_items", taskBody, map[string]string{"X-Task-Execution-Count": "0"})
	if resp.StatusCode == http.StatusOK {
		t.Fatal("status = 200, want failure for an empty window")
	}
	if len(sink.records) != 0 {
		t.Fatalf("recorded %d results for an empty window", len(sink.records))
	}
}

func TestBatchUploadChannelFallsBackToQueueHeader(t *testing.T) {
	submitter := &fakeSubmitter{result: domain.ProcessResult{SucceededItemIDs: []string{"a"}}}
	server := newTestServer(&fakeLoader{rows: rows("a")}, submitter, &fakeSink{})
	defer server.Close()

	body := `{"start_index":0,"batch_size":1,"timestamp":"20260831120000"}`
	postTask(t, server, "/insert_items", body, map[string]string{
		"X-Task-Execution-Count": "0",
		"X-Task-Queue-Name":      "processing-items-local",
	})
	if submitter.channel != domain.ChannelLocal {
		t.Fatalf("channel = %q, want local from queue header", submitter.channel)
	}
}

func TestBatchUploadRejectsInvalidTask(t *testing.T) {
	submitter := &fakeSubmitter{}
	server := newTestServer(&fakeLoader{rows: rows("a")}, submitter, &fakeSink{})
	defer server.Close()

	for _, body := range []string{"not json", `{"start_index":-1,"batch_size":1,"timestamp":"x"}`, `{"start_index":0,"batch_size":1}`} {
		resp := postTask(t, server, "/insert_items", body, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d for %q, want 400", resp.StatusCode, body)
		}
	}
	if submitter.calls != 0 {
		t.Fatalf("submitter called %d times for invalid tasks", submitter.calls)
	}
}

func TestSubmittedIDsExcludesSkipped(t *testing.T) {
	ids := submittedIDs(rows("a", "b", "c"), []string{"b"})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("submittedIDs() = %v, want [a c]", ids)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeLoader{}, &fakeSubmitter{}, &fakeSink{})
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}
