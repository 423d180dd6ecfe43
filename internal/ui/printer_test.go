package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/raysh454/capwatch/internal/archive"
	"github.com/raysh454/capwatch/internal/model"
)

func TestFindingsTable_MostSevereFirst(t *testing.T) {
	t.Parallel()
	fs := []model.Finding{
		{ID: "1", Severity: model.SeverityLow, Title: "low"},
		{ID: "2", Severity: model.SeverityCritical, Title: "crit", Recommendations: []string{"patch"}},
		{ID: "3", Severity: model.SeverityMedium, Title: "med"},
	}
	data := FindingsTable(fs)
	if len(data) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(data))
	}
	titles := []string{data[1][1], data[2][1], data[3][1]}
	if strings.Join(titles, ",") != "crit,med,low" {
		t.Errorf("unexpected order %v", titles)
	}
	if data[1][3] != "patch" || data[2][3] != "-" {
		t.Errorf("unexpected recommendation cells %q, %q", data[1][3], data[2][3])
	}
	if fs[0].ID != "1" {
		t.Errorf("input must not be reordered")
	}
}

func TestSeveritySummary(t *testing.T) {
	t.Parallel()
	fs := []model.Finding{
		{ID: "1", Severity: model.SeverityLow},
		{ID: "2", Severity: model.SeverityCritical},
		{ID: "3", Severity: model.SeverityCritical},
	}
	if got := SeveritySummary(fs); got != "2 critical, 1 low" {
		t.Errorf("unexpected summary %q", got)
	}
	if got := SeveritySummary(nil); got != "no findings" {
		t.Errorf("unexpected empty summary %q", got)
	}
}

func TestHistoryTable(t *testing.T) {
	t.Parallel()
	recs := []*archive.ScanRecord{
		{JobID: "0123456789", Target: "example.com", Status: model.JobCompleted, FinishedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
		{JobID: "short", Target: "example.com", Status: model.JobPending, Error: "Scan timed out"},
	}
	data := HistoryTable(recs)
	if data[1][1] != "01234567..." || data[2][1] != "short" {
		t.Errorf("unexpected ids %q, %q", data[1][1], data[2][1])
	}
	if data[1][4] != "2026-01-02 03:04" {
		t.Errorf("unexpected timestamp %q", data[1][4])
	}
	if data[2][5] != "Scan timed out" {
		t.Errorf("error must replace status, got %q", data[2][5])
	}
}

func TestProgressText(t *testing.T) {
	t.Parallel()
	if got := ProgressText(nil, 0, 0); got != "Starting scan..." {
		t.Errorf("unexpected text %q", got)
	}
	job := &model.Job{Capability: model.CapabilityEmailSecurity, Target: "example.com", Status: model.JobRunning}
	if got := ProgressText(job, 42.4, 3); got != "email_security on example.com: running, 42%, 3 findings so far" {
		t.Errorf("unexpected text %q", got)
	}
}
