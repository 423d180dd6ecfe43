package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity of a finding. Severities have a total display order, critical first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from highest to lowest.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank returns the display priority; higher ranks sort first. Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// ParseSeverity accepts any casing of the five known severities.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Finding is one discovered issue belonging to a job.
type Finding struct {
	// ID is unique within the job and is the deduplication key.
	ID string `json:"id"`

	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`

	// Evidence is capability-specific supporting data.
	Evidence map[string]any `json:"evidence,omitempty"`

	// Recommendations are ordered remediation steps.
	Recommendations []string `json:"recommendations,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
}
