package lifecycle

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// Controller owns at most one current Session. Nothing else creates or
// destroys session resources.
type Controller struct {
	clock  clockwork.Clock
	logger logging.Logger

	mu      sync.Mutex
	current *Session
}

func NewController(clock clockwork.Clock, logger logging.Logger) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Controller{
		clock:  clock,
		logger: logger.With(logging.Field{Key: "component", Value: "lifecycle"}),
	}
}

// Begin tears down the current session, if any, and makes a new one current.
func (c *Controller) Begin(jobID string, mode model.DeliveryMode) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Teardown()
	}
	c.current = newSession(jobID, mode, c.clock, c.logger)
	c.logger.Debug("session started",
		logging.Field{Key: "session_id", Value: c.current.ID},
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "mode", Value: string(mode)})
	return c.current
}

// Current returns the current session or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IsCurrent reports whether s is the current session and still active.
func (c *Controller) IsCurrent(s *Session) bool {
	if s == nil {
		return false
	}
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	return cur == s && s.Active()
}

// End tears s down and clears it if it is still current. It reports whether
// s was current.
func (c *Controller) End(s *Session) bool {
	if s == nil {
		return false
	}
	c.mu.Lock()
	wasCurrent := c.current == s
	if wasCurrent {
		c.current = nil
	}
	c.mu.Unlock()
	s.Teardown()
	return wasCurrent
}

// Reset tears down the current session unconditionally.
func (c *Controller) Reset() {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.mu.Unlock()
	if cur != nil {
		cur.Teardown()
	}
}

// Dispose is Reset for view disposal. The backend job keeps running; only
// local listening stops.
func (c *Controller) Dispose() {
	if cur := c.Current(); cur != nil {
		c.logger.Info("disposing live session", logging.Field{Key: "job_id", Value: cur.JobID})
	}
	c.Reset()
}

// Live reports the resources held by the current session.
func (c *Controller) Live() Resources {
	cur := c.Current()
	if cur == nil {
		return Resources{}
	}
	return cur.Live()
}
