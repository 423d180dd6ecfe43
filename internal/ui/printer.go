// Package ui renders scan state and results in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/raysh454/capwatch/internal/archive"
	"github.com/raysh454/capwatch/internal/findings"
	"github.com/raysh454/capwatch/internal/model"
)

func severityLabel(s model.Severity) string {
	label := strings.ToUpper(string(s))
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return pterm.FgRed.Sprint(label)
	case model.SeverityMedium:
		return pterm.FgYellow.Sprint(label)
	case model.SeverityLow:
		return pterm.FgBlue.Sprint(label)
	default:
		return pterm.FgGray.Sprint(label)
	}
}

// FindingsTable builds the table rows for fs, most severe first.
func FindingsTable(fs []model.Finding) [][]string {
	data := [][]string{{"Severity", "Title", "Description", "Recommendation"}}
	for _, f := range findings.SortBySeverity(fs) {
		rec := "-"
		if len(f.Recommendations) > 0 {
			rec = f.Recommendations[0]
		}
		data = append(data, []string{severityLabel(f.Severity), f.Title, f.Description, rec})
	}
	return data
}

// SeveritySummary renders counts such as "2 critical, 1 low".
func SeveritySummary(fs []model.Finding) string {
	counts := findings.CountBySeverity(fs)
	var parts []string
	for _, s := range model.Severities {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "no findings"
	}
	return strings.Join(parts, ", ")
}

func PrintFindings(fs []model.Finding) {
	if len(fs) == 0 {
		pterm.Success.Println("No findings. The target looks clean.")
		return
	}

	pterm.Warning.Printf("Found %d findings (%s):\n\n", len(fs), SeveritySummary(fs))
	_ = pterm.DefaultTable.WithHasHeader().WithData(FindingsTable(fs)).Render()
}

func PrintCapabilities(infos []model.CapabilityInfo) {
	data := [][]string{{"Capability", "Name", "Delivery"}}
	for _, c := range infos {
		data = append(data, []string{pterm.FgCyan.Sprint(string(c.Capability)), c.Name, string(c.Mode)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// HistoryTable builds the table rows for archived scans.
func HistoryTable(recs []*archive.ScanRecord) [][]string {
	data := [][]string{{"#", "Job", "Capability", "Target", "Finished", "Status", "Findings"}}
	for i, r := range recs {
		status := string(r.Status)
		if r.Error != "" {
			status = r.Error
		}
		data = append(data, []string{
			fmt.Sprint(i + 1),
			shortID(r.JobID),
			string(r.Capability),
			r.Target,
			r.FinishedAt.UTC().Format("2006-01-02 15:04"),
			status,
			SeveritySummary(r.Findings),
		})
	}
	return data
}

func PrintHistory(target string, recs []*archive.ScanRecord) {
	if len(recs) == 0 {
		if target == "" {
			pterm.Info.Println("No scan history found")
		} else {
			pterm.Info.Printf("No scan history found for %s\n", target)
		}
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(HistoryTable(recs)).Render()
	pterm.Printf("Total: %d scan(s)\n", len(recs))
}

// shortID returns the first 8 characters of an id followed by "...".
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// ProgressText describes a running scan for the spinner.
func ProgressText(job *model.Job, progress float64, found int) string {
	if job == nil {
		return "Starting scan..."
	}
	return fmt.Sprintf("%s on %s: %s, %.0f%%, %d findings so far",
		job.Capability, job.Target, job.Status, progress, found)
}
