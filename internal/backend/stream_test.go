package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/model"
	"github.com/raysh454/capwatch/internal/testutil"
)

// ─── Wire format ───────────────────────────────────────────────────────

func TestDecodeEvent_AllTypes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw   string
		check func(t *testing.T, ev backend.StreamEvent)
	}{
		{
			raw: `{"type":"finding","job_id":"j","data":{"id":"F1","severity":"high","title":"Leaked creds","evidence":{"source":"paste"}}}`,
			check: func(t *testing.T, ev backend.StreamEvent) {
				if ev.Finding == nil || ev.Finding.ID != "F1" || ev.Finding.Severity != model.SeverityHigh {
					t.Errorf("unexpected finding: %+v", ev.Finding)
				}
				if ev.Finding.Evidence["source"] != "paste" {
					t.Errorf("evidence not decoded: %+v", ev.Finding.Evidence)
				}
			},
		},
		{
			raw: `{"type":"progress","data":{"progress":37.5,"message":"crawling"}}`,
			check: func(t *testing.T, ev backend.StreamEvent) {
				if ev.Progress != 37.5 || ev.Message != "crawling" {
					t.Errorf("unexpected progress: %+v", ev)
				}
			},
		},
		{
			raw: `{"type":"complete","data":{"total_findings":3}}`,
			check: func(t *testing.T, ev backend.StreamEvent) {
				if ev.Summary["total_findings"] != float64(3) {
					t.Errorf("unexpected summary: %+v", ev.Summary)
				}
			},
		},
		{
			raw: `{"type":"error","data":{"message":"source unavailable"}}`,
			check: func(t *testing.T, ev backend.StreamEvent) {
				if ev.Message != "source unavailable" {
					t.Errorf("unexpected error message: %q", ev.Message)
				}
			},
		},
		{
			raw: `{"type":"error","data":"plain string"}`,
			check: func(t *testing.T, ev backend.StreamEvent) {
				if ev.Message != "plain string" {
					t.Errorf("unexpected error message: %q", ev.Message)
				}
			},
		},
	}
	for _, tc := range cases {
		ev, err := backend.DecodeEvent([]byte(tc.raw))
		if err != nil {
			t.Fatalf("DecodeEvent(%s): %v", tc.raw, err)
		}
		tc.check(t, ev)
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	t.Parallel()
	if _, err := backend.DecodeEvent([]byte(`{"type":"telemetry"}`)); !errors.Is(err, backend.ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := backend.DecodeEvent([]byte(`nope`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestEncodeEvent_RoundTripsThroughDecode(t *testing.T) {
	t.Parallel()
	raw, err := backend.EncodeEvent(backend.StreamEvent{Type: backend.EventProgress, JobID: "j", Progress: 10, Message: "m"})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	ev, err := backend.DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != backend.EventProgress || ev.JobID != "j" || ev.Progress != 10 {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, err := backend.EncodeEvent(backend.StreamEvent{Type: backend.EventConnect}); err == nil {
		t.Error("connection diagnostics must not be encodable")
	}
}

// ─── Dialer ────────────────────────────────────────────────────────────

func TestNewWSDialer_DerivesScheme(t *testing.T) {
	t.Parallel()
	d, err := backend.NewWSDialer(backend.Config{BaseURL: "https://api.example.com/"}, nil)
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}
	if got := d.URLFor("j1"); got != "wss://api.example.com/ws/capability-jobs/j1" {
		t.Errorf("unexpected stream URL %q", got)
	}
	if _, err := backend.NewWSDialer(backend.Config{StreamURL: "gopher://x"}, nil); err == nil {
		t.Error("expected unsupported scheme error")
	}
	if _, err := backend.NewWSDialer(backend.Config{}, nil); err == nil {
		t.Error("expected missing URL error")
	}
}

func streamServer(t *testing.T, frames []string, holdOpen bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	r := chi.NewRouter()
	r.Get("/ws/capability-jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if holdOpen {
			// wait for the client to close
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, s backend.Stream, n int) []backend.StreamEvent {
	t.Helper()
	var out []backend.StreamEvent
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d/%d events", len(out), n)
		}
	}
	return out
}

func TestWSDialer_DeliversTypedEvents(t *testing.T) {
	t.Parallel()
	srv := streamServer(t, []string{
		`{"type":"progress","data":{"progress":10}}`,
		`not-json`,
		`{"type":"finding","data":{"id":"F1","severity":"low","title":"t"}}`,
		`{"type":"complete","data":{}}`,
	}, true)

	d, err := backend.NewWSDialer(backend.Config{BaseURL: srv.URL}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewWSDialer: %v", err)
	}
	s, err := d.Dial(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	evs := collect(t, s, 4)
	want := []backend.EventType{backend.EventConnect, backend.EventProgress, backend.EventFinding, backend.EventComplete}
	for i, typ := range want {
		if evs[i].Type != typ {
			t.Fatalf("event %d: got %s, want %s", i, evs[i].Type, typ)
		}
		if evs[i].JobID != "job-9" {
			t.Errorf("event %d: expected job id filled in, got %q", i, evs[i].JobID)
		}
	}
}

func TestWSDialer_PeerCloseEmitsDisconnect(t *testing.T) {
	t.Parallel()
	srv := streamServer(t, []string{`{"type":"progress","data":{"progress":5}}`}, false)
	d, _ := backend.NewWSDialer(backend.Config{BaseURL: srv.URL}, &testutil.DummyLogger{})

	s, err := d.Dial(context.Background(), "j")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	evs := collect(t, s, 3)
	if evs[2].Type != backend.EventDisconnect {
		t.Fatalf("expected disconnect, got %+v", evs)
	}
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("expected events channel to be closed after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Error("events channel not closed")
	}
}

func TestWSDialer_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := streamServer(t, nil, true)
	d, _ := backend.NewWSDialer(backend.Config{BaseURL: srv.URL}, &testutil.DummyLogger{})

	s, err := d.Dial(context.Background(), "j")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = s.Close()
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}

func TestWSDialer_DialFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d, _ := backend.NewWSDialer(backend.Config{BaseURL: srv.URL}, &testutil.DummyLogger{})
	_, err := d.Dial(context.Background(), "j")
	if err == nil || !strings.Contains(err.Error(), "dial stream") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
