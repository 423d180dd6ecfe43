package demoserver

import (
	"time"

	"github.com/raysh454/capwatch/internal/logging"
)

// Config holds configuration for the demo backend.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// DBPath is the SQLite database file. ":memory:" keeps everything in RAM.
	DBPath string

	// StepDelay is the simulated time between job updates.
	StepDelay time.Duration

	// Steps is the number of running steps; each one emits a finding.
	Steps int

	// FailTargets are targets whose jobs end in failure.
	FailTargets []string

	// APIToken, when set, must be presented as a bearer token.
	APIToken string

	Logger logging.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8090",
		DBPath:      ":memory:",
		StepDelay:   time.Second,
		Steps:       5,
		FailTargets: []string{"fail.example.com"},
	}
}
