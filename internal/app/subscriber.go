package app

import (
	"errors"
	"time"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/lifecycle"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// subscribe opens the push channel for sess and hands it to the session.
// Events are consumed by a single loop so the late-event rule lives in one place.
func (c *Coordinator) subscribe(sess *lifecycle.Session, timeout <-chan time.Time) {
	stream, err := c.dialer.Dial(sess.Context(), sess.JobID)
	if err != nil {
		c.mu.Lock()
		if !c.isLiveLocked(sess) {
			c.mu.Unlock()
			return
		}
		c.logger.Warn("opening scan stream", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "error", Value: err.Error()})
		c.finishLocked(sess, MsgStreamFailed)
		st := c.commitLocked()
		c.mu.Unlock()
		c.publish(st)
		return
	}

	if err := sess.AttachChannel(stream); err != nil {
		if !errors.Is(err, lifecycle.ErrTornDown) {
			_ = stream.Close()
			c.logger.Error("attaching stream", logging.Field{Key: "error", Value: err.Error()})
		}
		return
	}
	go c.consume(sess, stream, timeout)
}

func (c *Coordinator) consume(sess *lifecycle.Session, stream backend.Stream, timeout <-chan time.Time) {
	events := stream.Events()
	for {
		select {
		case <-sess.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// The channel stopped delivering; only the timeout or a
				// teardown can end the session now.
				events = nil
				continue
			}
			c.handleStreamEvent(sess, ev)
		case <-timeout:
			c.drainPending(sess, events)
			c.expire(sess)
			return
		}
	}
}

// drainPending applies events that were already queued when the timeout
// fired, so a completion that raced the timeout still wins.
func (c *Coordinator) drainPending(sess *lifecycle.Session, events <-chan backend.StreamEvent) {
	if events == nil {
		return
	}
	for sess.Active() {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleStreamEvent(sess, ev)
		default:
			return
		}
	}
}

func (c *Coordinator) handleStreamEvent(sess *lifecycle.Session, ev backend.StreamEvent) {
	switch ev.Type {
	case backend.EventConnect:
		c.logger.Debug("stream connected", logging.Field{Key: "job_id", Value: sess.JobID})
		return
	case backend.EventDisconnect:
		c.logger.Info("stream disconnected", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "reason", Value: ev.Message})
		return
	}

	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		c.logger.Debug("ignoring late stream event", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "type", Value: string(ev.Type)})
		return
	}

	switch ev.Type {
	case backend.EventFinding:
		if ev.Finding == nil {
			c.mu.Unlock()
			return
		}
		if !c.findings.Add(*ev.Finding) {
			c.mu.Unlock()
			c.logger.Debug("dropping duplicate finding", logging.Field{Key: "finding_id", Value: ev.Finding.ID})
			return
		}

	case backend.EventProgress:
		c.progress = ev.Progress
		c.job.Progress = ev.Progress
		if c.job.Status == model.JobPending || c.job.Status == model.JobQueued {
			c.job.Status = model.JobRunning
		}

	case backend.EventComplete:
		c.progress = 100
		c.job.Progress = 100
		c.job.Status = model.JobCompleted
		c.logger.Info("scan completed",
			logging.Field{Key: "job_id", Value: sess.JobID},
			logging.Field{Key: "findings", Value: c.findings.Len()})
		c.finishLocked(sess, "")

	case backend.EventError:
		msg := ev.Message
		if msg == "" {
			msg = MsgScanFailed
		}
		c.job.Status = model.JobFailed
		c.job.Error = msg
		c.logger.Info("scan failed", logging.Field{Key: "job_id", Value: sess.JobID}, logging.Field{Key: "error", Value: msg})
		c.finishLocked(sess, msg)

	default:
		c.mu.Unlock()
		c.logger.Warn("ignoring unknown stream event", logging.Field{Key: "type", Value: string(ev.Type)})
		return
	}

	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)
}
