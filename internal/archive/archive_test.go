package archive

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raysh454/capwatch/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, target string, finished time.Time) *ScanRecord {
	return &ScanRecord{
		JobID:      id,
		Capability: model.CapabilityExposureDiscovery,
		Target:     target,
		Status:     model.JobCompleted,
		Findings:   []model.Finding{{ID: id + "-f", Severity: model.SeverityHigh, Title: "open port"}},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Save(record("job-1", "example.com", now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Target != "example.com" || len(got.Findings) != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.FinishedAt.Equal(now) {
		t.Errorf("expected finished %v, got %v", now, got.FinishedAt)
	}

	missing, err := s.Get("nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing record, got %+v, %v", missing, err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"job-1", "job-2", "job-3"} {
		if err := s.Save(record(id, "example.com", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.Save(record("job-4", "other.org", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Re-saving must not duplicate the index entry.
	if err := s.Save(record("job-1", "example.com", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	recs, err := s.List("example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].JobID != "job-3" || recs[2].JobID != "job-1" {
		t.Errorf("unexpected order: %s, %s, %s", recs[0].JobID, recs[1].JobID, recs[2].JobID)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 records overall, got %d", len(all))
	}

	latest, err := s.Latest("other.org")
	if err != nil || latest == nil || latest.JobID != "job-4" {
		t.Errorf("unexpected latest %+v, %v", latest, err)
	}
	none, err := s.Latest("unknown.net")
	if err != nil || none != nil {
		t.Errorf("expected no latest record, got %+v, %v", none, err)
	}
}

func TestStore_RejectsMissingJobID(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	if err := s.Save(&ScanRecord{Target: "example.com"}); !errors.Is(err, ErrMissingJobID) {
		t.Errorf("expected ErrMissingJobID, got %v", err)
	}
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(record("job-1", "example.com", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if rec, err := s.Get("job-1"); err != nil || rec == nil {
		t.Errorf("record lost across reopen: %+v, %v", rec, err)
	}
}
