package demoserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/demoserver"
	"github.com/raysh454/capwatch/internal/model"
	"github.com/raysh454/capwatch/internal/testutil"
)

func newTestServer(t *testing.T, mutate func(*demoserver.Config)) (*demoserver.Server, *httptest.Server) {
	t.Helper()
	cfg := demoserver.DefaultConfig()
	cfg.StepDelay = 5 * time.Millisecond
	cfg.Steps = 3
	cfg.Logger = &testutil.DummyLogger{}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := demoserver.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func newClient(t *testing.T, ts *httptest.Server, token string) *backend.Client {
	t.Helper()
	c, err := backend.NewClient(backend.Config{BaseURL: ts.URL, APIToken: token}, &testutil.DummyLogger{}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func waitForStatus(t *testing.T, c *backend.Client, id string, want model.JobStatus) *model.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		job, err := c.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, wanted %s", id, job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, "GET", "/capabilities", "")
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}

	rec = doJSON(t, s, "OPTIONS", "/capability-jobs", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
}

// ─── Jobs ──────────────────────────────────────────────────────────────

func TestServer_CreateJobValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown capability", `{"capability":"port_scan","target":"example.com"}`},
		{"missing target", `{"capability":"email_security","target":"  "}`},
	}
	for _, tc := range cases {
		rec := doJSON(t, s, "POST", "/capability-jobs", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
			t.Errorf("%s: expected error payload, got %v", tc.name, err)
		}
	}
}

func TestServer_UnknownJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	for _, path := range []string{"/capability-jobs/nope", "/capability-jobs/nope/findings", "/ws/capability-jobs/nope"} {
		if rec := doJSON(t, s, "GET", path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestServer_JobRunsToCompletion(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts, "")

	job, err := c.CreateJob(context.Background(), model.CreateJobRequest{
		Capability: model.CapabilityExposureDiscovery,
		Target:     "example.com",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID == "" || job.Status != model.JobPending || job.Priority != "normal" {
		t.Errorf("unexpected created job %+v", job)
	}

	done := waitForStatus(t, c, job.ID, model.JobCompleted)
	if done.Progress != 100 {
		t.Errorf("expected progress 100, got %v", done.Progress)
	}
	fs, err := c.ListFindings(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if len(fs) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(fs))
	}
	if fs[0].Title != "Exposed admin panel" || fs[0].Evidence["target"] != "example.com" {
		t.Errorf("unexpected first finding %+v", fs[0])
	}
	if len(fs[0].Recommendations) == 0 {
		t.Errorf("recommendations must round-trip through the store")
	}
}

func TestServer_FailTarget(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts, "")

	job, err := c.CreateJob(context.Background(), model.CreateJobRequest{
		Capability: model.CapabilityEmailSecurity,
		Target:     "fail.example.com",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	failed := waitForStatus(t, c, job.ID, model.JobFailed)
	if failed.Error != "target unreachable" {
		t.Errorf("unexpected error %q", failed.Error)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, func(cfg *demoserver.Config) { cfg.APIToken = "s3cret" })

	_, err := newClient(t, ts, "").GetJob(context.Background(), "x")
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}

	job, err := newClient(t, ts, "s3cret").CreateJob(context.Background(), model.CreateJobRequest{
		Capability: model.CapabilityEmailSecurity,
		Target:     "example.com",
	})
	if err != nil || job.ID == "" {
		t.Errorf("authorised request failed: %v", err)
	}
}

// ─── Streaming ─────────────────────────────────────────────────────────

func collectUntilDone(t *testing.T, s backend.Stream) []backend.StreamEvent {
	t.Helper()
	var out []backend.StreamEvent
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.Type == backend.EventComplete || ev.Type == backend.EventError {
				return out
			}
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func countType(evs []backend.StreamEvent, typ backend.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestServer_StreamsJobEvents(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts, "")
	dialer, err := backend.NewWSDialer(backend.Config{BaseURL: ts.URL}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}

	job, err := c.CreateJob(context.Background(), model.CreateJobRequest{
		Capability: model.CapabilityDarkWebIntelligence,
		Target:     "acme",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	stream, err := dialer.Dial(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	evs := collectUntilDone(t, stream)
	if evs[0].Type != backend.EventConnect {
		t.Errorf("expected connect first, got %s", evs[0].Type)
	}
	if got := countType(evs, backend.EventFinding); got != 3 {
		t.Errorf("expected 3 findings, got %d", got)
	}
	last := evs[len(evs)-1]
	if last.Type != backend.EventComplete || last.JobID != job.ID {
		t.Errorf("expected complete for %s last, got %+v", job.ID, last)
	}
}

func TestServer_StreamReplaysHistoryAfterFinish(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts, "")
	dialer, err := backend.NewWSDialer(backend.Config{BaseURL: ts.URL}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}

	job, err := c.CreateJob(context.Background(), model.CreateJobRequest{
		Capability: model.CapabilityDarkWebIntelligence,
		Target:     "fail.example.com",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	waitForStatus(t, c, job.ID, model.JobFailed)

	stream, err := dialer.Dial(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	evs := collectUntilDone(t, stream)
	last := evs[len(evs)-1]
	if last.Type != backend.EventError || last.Message != "target unreachable" {
		t.Errorf("expected replayed error event, got %+v", last)
	}
	if got := countType(evs, backend.EventFinding); got != 3 {
		t.Errorf("expected 3 replayed findings, got %d", got)
	}
}
