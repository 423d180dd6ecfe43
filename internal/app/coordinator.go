package app

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/findings"
	"github.com/raysh454/capwatch/internal/lifecycle"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// Messages surfaced to the presentation layer. They are the only error text
// a view shows for a scan.
const (
	MsgStartFailed       = "Failed to start scan"
	MsgStatusCheckFailed = "Failed to check scan status. Please refresh and try again."
	MsgScanFailed        = "Scan failed"
	MsgTimedOut          = "Scan timed out"
	MsgFindingsFailed    = "Failed to load scan findings"
	MsgStreamFailed      = "Failed to connect to scan updates"
)

var (
	ErrEmptyTarget    = errors.New("target is required")
	ErrDispatch       = errors.New("failed to start scan")
	ErrSuperseded     = errors.New("scan superseded before dispatch completed")
	ErrNoStreamDialer = errors.New("capability requires a stream dialer")
)

// Phase is the coordinator's position in the scan state machine:
//
//	idle --submit--> dispatching --success--> active --terminal/timeout/new submit/dispose--> idle
//	dispatching --failure--> idle
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDispatching Phase = "dispatching"
	PhaseActive      Phase = "active"
)

// State is an immutable snapshot of the coordinator.
type State struct {
	Phase    Phase
	Mode     model.DeliveryMode
	Job      *model.Job
	Progress float64
	Findings []model.Finding
	Error    string

	// Finished is set when the coordinator itself ended the scan: completion,
	// failure, timeout or a lost channel. Dispose and resubmission leave it unset.
	Finished bool
}

// Scanning is derived from the phase; there is no separate flag to drift.
func (s State) Scanning() bool {
	return s.Phase != PhaseIdle
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the real clock, typically with a clockwork fake in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithObserver registers fn to receive a snapshot after every observable
// change. fn runs outside the coordinator's lock, on whichever goroutine made
// the change; it may call back into the coordinator.
func WithObserver(fn func(State)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Coordinator turns "user requested a scan" into findings, owning the one
// live scan at a time. It picks polling or streaming per capability, feeds a
// single findings aggregator, and releases every timer and channel on each
// exit path. Cancellation is local: abandoning a scan never tells the backend.
type Coordinator struct {
	cfg       *Config
	api       backend.JobAPI
	dialer    backend.StreamDialer
	clock     clockwork.Clock
	logger    logging.Logger
	observers []func(State)

	ctrl     *lifecycle.Controller
	findings *findings.Aggregator

	mu       sync.Mutex
	gen      uint64
	phase    Phase
	mode     model.DeliveryMode
	job      *model.Job
	progress float64
	errMsg   string
	finished bool
	changed  chan struct{}
}

// NewCoordinator wires a coordinator. dialer may be nil if no streaming
// capability will be submitted.
func NewCoordinator(cfg *Config, api backend.JobAPI, dialer backend.StreamDialer, logger logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.Nop{}
	}
	c := &Coordinator{
		cfg:      withTimingDefaults(cfg),
		api:      api,
		dialer:   dialer,
		logger:   logger.With(logging.Field{Key: "component", Value: "coordinator"}),
		findings: findings.NewAggregator(),
		phase:    PhaseIdle,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	c.ctrl = lifecycle.NewController(c.clock, logger)
	return c
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Findings returns the current findings in arrival order.
func (c *Coordinator) Findings() []model.Finding {
	return c.findings.List()
}

// LiveResources reports the timers and channel currently held.
func (c *Coordinator) LiveResources() lifecycle.Resources {
	return c.ctrl.Live()
}

// Wait blocks until no scan is in progress or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		st := c.snapshotLocked()
		ch := c.changed
		c.mu.Unlock()
		if !st.Scanning() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Dispose stops listening to the current scan, if any, without surfacing an
// error. The backend job is left running.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	c.gen++
	c.ctrl.Dispose()
	c.phase = PhaseIdle
	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)
}

func (c *Coordinator) snapshotLocked() State {
	st := State{
		Phase:    c.phase,
		Mode:     c.mode,
		Progress: c.progress,
		Findings: c.findings.List(),
		Error:    c.errMsg,
		Finished: c.finished,
	}
	if c.job != nil {
		j := *c.job
		st.Job = &j
	}
	return st
}

// commitLocked wakes waiters and returns the snapshot to publish once the
// lock is released.
func (c *Coordinator) commitLocked() State {
	close(c.changed)
	c.changed = make(chan struct{})
	return c.snapshotLocked()
}

func (c *Coordinator) publish(st State) {
	for _, fn := range c.observers {
		fn(st)
	}
}

// isLiveLocked reports whether sess may still mutate state.
func (c *Coordinator) isLiveLocked(sess *lifecycle.Session) bool {
	return c.phase == PhaseActive && c.ctrl.IsCurrent(sess)
}

// finishLocked moves to idle and releases every resource of sess.
func (c *Coordinator) finishLocked(sess *lifecycle.Session, errMsg string) {
	c.errMsg = errMsg
	c.finished = true
	c.phase = PhaseIdle
	c.ctrl.End(sess)
}

// expire applies the overall timeout, unless the scan already reached a
// terminal state or sess is no longer current.
func (c *Coordinator) expire(sess *lifecycle.Session) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) || (c.job != nil && c.job.Status.Terminal()) {
		c.mu.Unlock()
		return
	}
	c.logger.Warn("scan timed out",
		logging.Field{Key: "job_id", Value: sess.JobID},
		logging.Field{Key: "mode", Value: string(sess.Mode)})
	c.finishLocked(sess, MsgTimedOut)
	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)
}
