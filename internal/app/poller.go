package app

import (
	"sync/atomic"
	"time"

	"github.com/raysh454/capwatch/internal/lifecycle"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// poller drives one polling session. A tick that fires while a status
// request is still outstanding is dropped, so slow networks never build a
// backlog.
type poller struct {
	c        *Coordinator
	sess     *lifecycle.Session
	inFlight atomic.Bool
	logger   logging.Logger
}

// startPollingLocked registers the interval and timeout on sess and starts
// the tick loop. c.mu must be held.
func (c *Coordinator) startPollingLocked(sess *lifecycle.Session) error {
	tick, err := sess.StartInterval(c.cfg.PollInterval)
	if err != nil {
		return err
	}
	timeout, err := sess.StartTimeout(c.cfg.PollTimeout)
	if err != nil {
		return err
	}
	p := &poller{
		c:      c,
		sess:   sess,
		logger: c.logger.With(logging.Field{Key: "job_id", Value: sess.JobID}),
	}
	go p.run(tick, timeout)
	return nil
}

func (p *poller) run(tick, timeout <-chan time.Time) {
	for {
		select {
		case <-p.sess.Done():
			return
		case <-tick:
			p.tick()
		case <-timeout:
			p.c.expire(p.sess)
			return
		}
	}
}

func (p *poller) tick() {
	if !p.sess.Active() {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("status request still in flight, skipping tick")
		return
	}
	go p.check()
}

func (p *poller) check() {
	defer p.inFlight.Store(false)
	job, err := p.c.api.GetJob(p.sess.Context(), p.sess.JobID)
	p.c.applyPoll(p.sess, job, err)
}

// applyPoll folds one status response into state. Transport errors end the
// scan immediately; polling never retries.
func (c *Coordinator) applyPoll(sess *lifecycle.Session, job *model.Job, err error) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}

	if err != nil || job == nil {
		fields := []logging.Field{{Key: "job_id", Value: sess.JobID}}
		if err != nil {
			fields = append(fields, logging.Field{Key: "error", Value: err.Error()})
		}
		c.logger.Warn("checking scan status", fields...)
		c.finishLocked(sess, MsgStatusCheckFailed)
		st := c.commitLocked()
		c.mu.Unlock()
		c.publish(st)
		return
	}

	c.job.Status = job.Status
	c.job.Error = job.Error
	if !job.UpdatedAt.IsZero() {
		c.job.UpdatedAt = job.UpdatedAt
	}

	switch job.Status {
	case model.JobCompleted:
		sess.StopTimers()
		st := c.commitLocked()
		c.mu.Unlock()
		c.publish(st)
		c.collectFindings(sess)
		return

	case model.JobFailed:
		msg := job.Error
		if msg == "" {
			msg = MsgScanFailed
		}
		c.logger.Info("scan failed", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "error", Value: msg})
		c.finishLocked(sess, msg)

	default:
		c.progress = job.Progress
		c.job.Progress = job.Progress
	}
	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)
}

// collectFindings fetches the complete findings list once and replaces the
// aggregator's contents with it.
func (c *Coordinator) collectFindings(sess *lifecycle.Session) {
	fs, err := c.api.ListFindings(sess.Context(), sess.JobID)

	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}
	msg := ""
	if err != nil {
		c.logger.Warn("fetching findings", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "error", Value: err.Error()})
		msg = MsgFindingsFailed
	} else {
		c.findings.Replace(fs)
	}
	c.progress = 100
	c.job.Progress = 100
	c.logger.Info("scan completed",
		logging.Field{Key: "job_id", Value: sess.JobID},
		logging.Field{Key: "findings", Value: c.findings.Len()})
	c.finishLocked(sess, msg)
	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)
}
