package model

import "time"

// JobStatus is the backend-reported state of a capability job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further activity is valid for a job in this status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job represents one scan execution as the backend reports it.
type Job struct {
	// ID is assigned by the backend at creation and never changes.
	ID string `json:"id"`

	// Capability is the scan type, fixed at creation.
	Capability Capability `json:"capability"`

	// Target is the user-supplied domain, URL or keyword list.
	Target string `json:"target"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// Progress is nominally 0-100. The backend does not guarantee it is
	// monotonic or integral.
	Progress float64 `json:"progress"`

	// Error is only populated when Status is failed.
	Error string `json:"error,omitempty"`

	// Priority is echoed back from the creation request.
	Priority string `json:"priority,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateJobRequest is the body of POST /capability-jobs.
type CreateJobRequest struct {
	Capability Capability `json:"capability"`
	Target     string     `json:"target"`
	Priority   string     `json:"priority"`
}
