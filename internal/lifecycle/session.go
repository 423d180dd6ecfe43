// Package lifecycle owns the timers and the push channel of the one live scan
// session, and guarantees they are released on every exit path.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

var (
	ErrTornDown       = errors.New("session already torn down")
	ErrWrongMode      = errors.New("resource not allowed in this delivery mode")
	ErrResourceExists = errors.New("resource already registered")
)

// Channel is an open push channel. Close must be safe to call from any goroutine.
type Channel interface {
	Close() error
}

// Resources reports which resources a session currently holds.
type Resources struct {
	Interval bool
	Timeout  bool
	Channel  bool
}

// Zero reports whether nothing is held.
func (r Resources) Zero() bool {
	return !r.Interval && !r.Timeout && !r.Channel
}

// Session is the bundle of live resources for exactly one active job.
// A polling session may hold an interval but never a channel; a streaming
// session may hold a channel but never an interval.
type Session struct {
	ID    string
	JobID string
	Mode  model.DeliveryMode

	clock  clockwork.Clock
	logger logging.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	interval clockwork.Ticker
	timeout  clockwork.Timer
	channel  Channel
	torn     bool
}

func newSession(jobID string, mode model.DeliveryMode, clock clockwork.Clock, logger logging.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Session{
		ID:     id,
		JobID:  jobID,
		Mode:   mode,
		clock:  clock,
		logger: logger.With(logging.Field{Key: "session_id", Value: id}, logging.Field{Key: "job_id", Value: jobID}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Active reports whether the session has not been torn down.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.torn
}

// StartInterval registers the poll ticker and returns its channel.
func (s *Session) StartInterval(d time.Duration) (<-chan time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return nil, ErrTornDown
	}
	if s.Mode != model.ModePolling {
		return nil, ErrWrongMode
	}
	if s.interval != nil {
		return nil, ErrResourceExists
	}
	s.interval = s.clock.NewTicker(d)
	s.logger.Debug("interval started", logging.Field{Key: "every", Value: d.String()})
	return s.interval.Chan(), nil
}

// StartTimeout registers the overall timeout and returns the channel that
// fires once it elapses.
func (s *Session) StartTimeout(d time.Duration) (<-chan time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return nil, ErrTornDown
	}
	if s.timeout != nil {
		return nil, ErrResourceExists
	}
	s.timeout = s.clock.NewTimer(d)
	s.logger.Debug("timeout armed", logging.Field{Key: "after", Value: d.String()})
	return s.timeout.Chan(), nil
}

// AttachChannel hands ownership of ch to the session. If the session is
// already torn down ch is closed immediately and ErrTornDown is returned.
func (s *Session) AttachChannel(ch Channel) error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		s.closeChannel(ch)
		return ErrTornDown
	}
	if s.Mode != model.ModeStreaming {
		s.mu.Unlock()
		return ErrWrongMode
	}
	if s.channel != nil {
		s.mu.Unlock()
		return ErrResourceExists
	}
	s.channel = ch
	s.mu.Unlock()
	return nil
}

func (s *Session) stopIntervalLocked() {
	if s.interval != nil {
		s.interval.Stop()
		s.interval = nil
	}
}

// StopTimers stops the interval and the timeout. The channel stays open.
func (s *Session) StopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopIntervalLocked()
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

// Teardown releases every resource. Calling it more than once is a no-op.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.stopIntervalLocked()
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	s.cancel()
	if ch != nil {
		s.closeChannel(ch)
	}
	s.logger.Debug("session torn down")
}

func (s *Session) closeChannel(ch Channel) {
	if err := ch.Close(); err != nil {
		s.logger.Warn("closing channel", logging.Field{Key: "error", Value: err.Error()})
	}
}

// Live reports the resources currently held.
func (s *Session) Live() Resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Resources{
		Interval: s.interval != nil,
		Timeout:  s.timeout != nil,
		Channel:  s.channel != nil,
	}
}
