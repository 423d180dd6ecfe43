// Package backend talks to the capability job runner over its HTTP and
// WebSocket contract.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/raysh454/capwatch/internal/model"
)

// JobAPI is the request/response half of the backend contract.
type JobAPI interface {
	// CreateJob issues POST /capability-jobs.
	CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.Job, error)

	// GetJob issues GET /capability-jobs/{id}.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// ListFindings issues GET /capability-jobs/{id}/findings.
	ListFindings(ctx context.Context, jobID string) ([]model.Finding, error)
}

// StreamDialer opens the push channel for one job.
type StreamDialer interface {
	Dial(ctx context.Context, jobID string) (Stream, error)
}

// Stream is an open push channel. Events is closed once the channel stops
// delivering; Close is idempotent and never blocks on the reader.
type Stream interface {
	Events() <-chan StreamEvent
	Close() error
}

// Config locates the backend.
type Config struct {
	// BaseURL is the HTTP root, e.g. http://localhost:8090.
	BaseURL string `mapstructure:"base_url"`

	// StreamURL is the WebSocket root. Empty means BaseURL with a ws/wss scheme.
	StreamURL string `mapstructure:"stream_url"`

	// APIToken, when set, is sent as a bearer token on every request.
	APIToken string `mapstructure:"api_token"`

	// RequestTimeout bounds each HTTP request and the stream handshake.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}
