package app_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/raysh454/capwatch/internal/app"
	"github.com/raysh454/capwatch/internal/demoserver"
	"github.com/raysh454/capwatch/internal/model"
	"github.com/raysh454/capwatch/internal/testutil"
)

func startDemoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := demoserver.DefaultConfig()
	cfg.StepDelay = 5 * time.Millisecond
	cfg.Steps = 3
	cfg.Logger = &testutil.DummyLogger{}
	s, err := demoserver.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts
}

func newApplication(t *testing.T, baseURL string) *app.Application {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.Backend.BaseURL = baseURL
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollTimeout = 5 * time.Second
	cfg.StreamTimeout = 5 * time.Second
	cfg.ArchivePath = filepath.Join(t.TempDir(), "history.db")

	a, err := app.NewApplication(cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func runScan(t *testing.T, a *app.Application, c model.Capability, target string) app.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.Coordinator.Submit(ctx, c, target); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := a.Coordinator.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st
}

func TestEndToEnd_BothDeliveryModes(t *testing.T) {
	t.Parallel()
	ts := startDemoBackend(t)
	a := newApplication(t, ts.URL)
	defer a.Shutdown(context.Background())

	for _, c := range []model.Capability{model.CapabilityExposureDiscovery, model.CapabilityDarkWebIntelligence} {
		st := runScan(t, a, c, "example.com")
		if st.Error != "" {
			t.Fatalf("%s: unexpected error %q", c, st.Error)
		}
		if st.Job.Status != model.JobCompleted || st.Progress != 100 {
			t.Errorf("%s: expected completed at 100, got %s at %v", c, st.Job.Status, st.Progress)
		}
		if len(st.Findings) != 3 {
			t.Errorf("%s: expected 3 findings, got %d", c, len(st.Findings))
		}
		if live := a.Coordinator.LiveResources(); !live.Zero() {
			t.Errorf("%s: resources left behind: %+v", c, live)
		}
	}

	// Observers run after Wait wakes up; give the archive a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := a.Archive.List("example.com")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 archived scans, got %d", len(recs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEnd_FailedJob(t *testing.T) {
	t.Parallel()
	ts := startDemoBackend(t)
	a := newApplication(t, ts.URL)
	defer a.Shutdown(context.Background())

	st := runScan(t, a, model.CapabilityDarkWebIntelligence, "fail.example.com")
	if st.Error != "target unreachable" {
		t.Errorf("expected backend error message, got %q", st.Error)
	}
	st = runScan(t, a, model.CapabilityEmailSecurity, "fail.example.com")
	if st.Error != "target unreachable" {
		t.Errorf("expected backend error message, got %q", st.Error)
	}
}

func TestEndToEnd_UnreachableBackend(t *testing.T) {
	t.Parallel()
	a := newApplication(t, "http://127.0.0.1:1")
	defer a.Shutdown(context.Background())

	_, err := a.Coordinator.Submit(context.Background(), model.CapabilityEmailSecurity, "example.com")
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if got := a.Coordinator.State().Error; got != app.MsgStartFailed {
		t.Errorf("expected %q, got %q", app.MsgStartFailed, got)
	}
}
