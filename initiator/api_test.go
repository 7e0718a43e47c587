package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/feedloader/internal/domain"
)

type fakeTables struct {
	created []domain.Operation
	dropped []domain.Operation
	failOn  domain.Operation
}

func (f *fakeTables) Create(_ context.Context, op domain.Operation, _ string) error {
	if op == f.failOn {
		return errors.New("create failed")
	}
	f.created = append(f.created, op)
	return nil
}

func (f *fakeTables) Drop(_ context.Context, op domain.Operation, _ string) error {
	f.dropped = append(f.dropped, op)
	return nil
}

type fakeDispatcher struct {
	start     domain.RunStart
	timestamp string
	channel   domain.Channel
	tasks     int
	err       error
	calls     int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, start domain.RunStart, timestamp string, channel domain.Channel) (int, error) {
	f.calls++
	f.start, f.timestamp, f.channel = start, timestamp, channel
	return f.tasks, f.err
}

type fakeLock struct{ released int }

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}

type fakeMonitor struct{ triggered int }

func (f *fakeMonitor) TriggerCompletion(_ context.Context, _ string) error {
	f.triggered++
	return nil
}

type fakeMailer struct{ notified int }

func (f *fakeMailer) NotifyNothingToDispatch(_ context.Context, _ domain.RunStart) error {
	f.notified++
	return nil
}

type fakeCleaner struct{ dropped int }

func (f *fakeCleaner) DropLiveItems(context.Context) error {
	f.dropped++
	return nil
}

type harness struct {
	tables     *fakeTables
	dispatcher *fakeDispatcher
	lock       *fakeLock
	monitor    *fakeMonitor
	mailer     *fakeMailer
	cleaner    *fakeCleaner
	server     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		tables:     &fakeTables{},
		dispatcher: &fakeDispatcher{tasks: 3},
		lock:       &fakeLock{},
		monitor:    &fakeMonitor{},
		mailer:     &fakeMailer{},
		cleaner:    &fakeCleaner{},
	}
	api := &initiatorAPI{
		logger:     slog.New(slog.DiscardHandler),
		tables:     h.tables,
		dispatcher: h.dispatcher,
		lock:       h.lock,
		monitor:    h.monitor,
		mailer:     h.mailer,
		cleaner:    h.cleaner,
		channel:    domain.ChannelOnline,
		now:        func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) },
	}
	mux := http.NewServeMux()
	api.register(mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := h.server.Client().Post(h.server.URL+"/start", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post() err=%v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartDispatchesRun(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, `{"deleteCount":10,"expiringCount":0,"upsertCount":2500}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(h.tables.created) != 2 {
		t.Fatalf("created tables for %v, want delete and upsert only", h.tables.created)
	}
	if h.dispatcher.timestamp != "20260831120000" {
		t.Fatalf("dispatch timestamp = %q", h.dispatcher.timestamp)
	}
	if h.monitor.triggered != 1 {
		t.Fatal("success must trigger the completion monitor")
	}
	if h.lock.released != 1 {
		t.Fatal("success must release the run lock")
	}
	if h.cleaner.dropped != 0 {
		t.Fatal("success must keep the items table for the processing tables")
	}
	if h.mailer.notified != 0 {
		t.Fatal("mailer is only told about empty runs")
	}
}

func TestStartZeroCountsNotifiesMailer(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, `{"deleteCount":0,"expiringCount":0,"upsertCount":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if h.mailer.notified != 1 {
		t.Fatal("empty run must notify the mailer")
	}
	if h.dispatcher.calls != 0 {
		t.Fatal("empty run must not dispatch")
	}
	if h.monitor.triggered != 0 {
		t.Fatal("empty run must not trigger the monitor")
	}
	if h.cleaner.dropped != 1 || h.lock.released != 1 {
		t.Fatal("empty run must clean up and release the lock")
	}
}

func TestStartTableFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.tables.failOn = domain.OperationDelete
	resp := h.post(t, `{"deleteCount":5,"expiringCount":0,"upsertCount":5}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if len(h.tables.dropped) != len(h.tables.created) {
		t.Fatalf("dropped %v after creating %v, want every created table dropped", h.tables.dropped, h.tables.created)
	}
	if h.cleaner.dropped != 1 || h.lock.released != 1 {
		t.Fatal("abort must drop the items table and release the lock")
	}
	if h.dispatcher.calls != 0 {
		t.Fatal("abort must not dispatch")
	}
}

func TestStartDispatchFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = errors.New("queue down")
	resp := h.post(t, `{"deleteCount":0,"expiringCount":0,"upsertCount":10}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if h.monitor.triggered != 0 {
		t.Fatal("failed dispatch must not trigger the monitor")
	}
	if h.cleaner.dropped != 1 || h.lock.released != 1 {
		t.Fatal("abort must clean up and release the lock")
	}
}

func TestStartRejectsBadPayloads(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{"not json", `{"deleteCount":-1,"expiringCount":0,"upsertCount":0}`} {
		resp := h.post(t, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d for %q, want 400", resp.StatusCode, body)
		}
	}
	if h.dispatcher.calls != 0 || h.lock.released != 0 {
		t.Fatal("rejected payloads must not touch the run")
	}
}
