package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/me/replay/internal/queue"
	"github.com/me/replay/pkg/model"
)

func testServer(t *testing.T) (*Server, *queue.Runtime) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := queue.Open(context.Background(), t.TempDir(), "", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return New(rt, logger), rt
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) model.Response {
	t.Helper()
	var resp model.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return resp
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "ok" {
		t.Errorf("envelope status = %q", resp.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestInstrumentTagsRequest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := instrument(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" {
		t.Fatal("handler saw no request ID")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID = %q, context holds %q", got, seen)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	s, rt := testServer(t)
	q := queue.NewBrokerQueue(rt)
	ctx := context.Background()

	if _, err := q.Put(ctx, model.JobSpec{Name: "waiting", Command: []string{"true"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := q.Put(ctx, model.JobSpec{Name: "running", Command: []string{"true"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Oldest message goes active.
	if _, err := rt.Broker.Consume(ctx, queue.TaskRunExperiment); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-encoding data: %v", err)
	}
	var status model.QueueStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decoding queue status: %v", err)
	}
	if len(status.Queued) != 1 || status.Queued[0].Name != "running" {
		t.Errorf("queued = %+v, want only the undelivered entry", status.Queued)
	}
	if len(status.Active) != 1 || status.Active[0].Name != "waiting" {
		t.Errorf("active = %+v, want only the delivered entry", status.Active)
	}
	if len(status.Done) != 0 {
		t.Errorf("done = %+v, want empty", status.Done)
	}
}

func TestLogsUnknownExperiment(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/experiments/ghost/logs")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", resp.Error)
	}
}

func TestLogsQueuedExperimentConflict(t *testing.T) {
	s, rt := testServer(t)
	q := queue.NewBrokerQueue(rt)

	entry, err := q.Put(context.Background(), model.JobSpec{Name: "waiting", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/experiments/"+entry.Name+"/logs")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409\nbody: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v, want CONFLICT", resp.Error)
	}
}
