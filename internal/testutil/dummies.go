// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// Count reports how many messages equal to msg were logged at any level.
func (l *DummyLogger) Count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, set := range [][]string{l.Debugs, l.Infos, l.Warns, l.Errors} {
		for _, m := range set {
			if m == msg {
				n++
			}
		}
	}
	return n
}

// ─── Call log ──────────────────────────────────────────────────────────

// CallLog records an ordered trace shared between several doubles, e.g.
// "dial:job-1", "close:job-1".
type CallLog struct {
	mu      sync.Mutex
	entries []string
}

func (c *CallLog) Add(entry string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *CallLog) Entries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

// ─── JobAPI ────────────────────────────────────────────────────────────

// StatusStep is one scripted GetJob answer.
type StatusStep struct {
	Status   model.JobStatus
	Progress float64
	Error    string

	// Err makes the call fail at the transport level.
	Err error
}

// FakeJobAPI implements backend.JobAPI with scripted answers.
// GetJob walks Statuses in order and keeps returning the last step.
type FakeJobAPI struct {
	CreateErr   error
	Statuses    []StatusStep
	Findings    []model.Finding
	FindingsErr error

	// CreateGate, when set, blocks CreateJob until a value is received or ctx ends.
	CreateGate chan struct{}

	// StatusGate, when set, blocks GetJob the same way.
	StatusGate chan struct{}

	// FindingsGate, when set, blocks ListFindings the same way. The call is
	// counted before it blocks.
	FindingsGate chan struct{}

	mu            sync.Mutex
	creates       []model.CreateJobRequest
	statusCalls   int
	findingsCalls int
	inFlight      int
	maxInFlight   int
}

var _ backend.JobAPI = (*FakeJobAPI)(nil)

func (f *FakeJobAPI) CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	if f.CreateGate != nil {
		select {
		case <-f.CreateGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	now := time.Now().UTC()
	return &model.Job{
		ID:         fmt.Sprintf("job-%d", len(f.creates)),
		Capability: req.Capability,
		Target:     req.Target,
		Priority:   req.Priority,
		Status:     model.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (f *FakeJobAPI) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.StatusGate != nil {
		select {
		case <-f.StatusGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	step := StatusStep{Status: model.JobRunning}
	if n := len(f.Statuses); n > 0 {
		idx := call - 1
		if idx >= n {
			idx = n - 1
		}
		step = f.Statuses[idx]
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &model.Job{
		ID:       jobID,
		Status:   step.Status,
		Progress: step.Progress,
		Error:    step.Error,
	}, nil
}

func (f *FakeJobAPI) ListFindings(ctx context.Context, _ string) ([]model.Finding, error) {
	f.mu.Lock()
	f.findingsCalls++
	f.mu.Unlock()

	if f.FindingsGate != nil {
		select {
		case <-f.FindingsGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindingsErr != nil {
		return nil, f.FindingsErr
	}
	return append([]model.Finding(nil), f.Findings...), nil
}

func (f *FakeJobAPI) Creates() []model.CreateJobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CreateJobRequest(nil), f.creates...)
}

func (f *FakeJobAPI) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *FakeJobAPI) FindingsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findingsCalls
}

// MaxInFlight is the highest number of concurrent GetJob calls observed.
func (f *FakeJobAPI) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// ─── Stream ────────────────────────────────────────────────────────────

// FakeStream implements backend.Stream. Tests feed it with Push.
type FakeStream struct {
	JobID string

	events chan backend.StreamEvent
	log    *CallLog

	mu     sync.Mutex
	closes int
}

func NewFakeStream(jobID string, log *CallLog) *FakeStream {
	return &FakeStream{
		JobID:  jobID,
		events: make(chan backend.StreamEvent, 64),
		log:    log,
	}
}

func (s *FakeStream) Events() <-chan backend.StreamEvent { return s.events }

// Push queues ev for the consumer. It does not block unless 64 events are pending.
func (s *FakeStream) Push(ev backend.StreamEvent) {
	if ev.JobID == "" {
		ev.JobID = s.JobID
	}
	s.events <- ev
}

// Pending is the number of queued events not yet consumed.
func (s *FakeStream) Pending() int { return len(s.events) }

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		s.log.Add("close:" + s.JobID)
	}
	return nil
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

func (s *FakeStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// FakeDialer implements backend.StreamDialer with FakeStreams.
type FakeDialer struct {
	Err error
	Log *CallLog

	mu      sync.Mutex
	streams []*FakeStream
}

var _ backend.StreamDialer = (*FakeDialer)(nil)

func (d *FakeDialer) Dial(ctx context.Context, jobID string) (backend.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Log.Add("dial:" + jobID)
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewFakeStream(jobID, d.Log)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Stream returns the most recent stream dialed for jobID, or nil.
func (d *FakeDialer) Stream(jobID string) *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.streams) - 1; i >= 0; i-- {
		if d.streams[i].JobID == jobID {
			return d.streams[i]
		}
	}
	return nil
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}
