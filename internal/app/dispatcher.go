package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

// Submit starts a new scan. Any previous scan is torn down first, even if it
// is mid-flight. The delivery mode is a fixed function of capability.
func (c *Coordinator) Submit(ctx context.Context, capability model.Capability, target string) (*model.Job, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}
	mode, err := model.ModeFor(capability)
	if err != nil {
		return nil, err
	}
	if mode == model.ModeStreaming && c.dialer == nil {
		return nil, ErrNoStreamDialer
	}

	c.mu.Lock()
	c.ctrl.Reset()
	c.gen++
	gen := c.gen
	c.phase = PhaseDispatching
	c.mode = mode
	c.job = nil
	c.progress = 0
	c.errMsg = ""
	c.finished = false
	c.findings.Reset()
	st := c.commitLocked()
	c.mu.Unlock()
	c.publish(st)

	c.logger.Info("submitting scan",
		logging.Field{Key: "capability", Value: string(capability)},
		logging.Field{Key: "mode", Value: string(mode)})

	job, err := c.api.CreateJob(ctx, model.CreateJobRequest{
		Capability: capability,
		Target:     target,
		Priority:   c.cfg.Priority,
	})
	if err == nil && (job == nil || job.ID == "") {
		err = errors.New("backend returned a job without an id")
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if job != nil {
			c.logger.Info("ignoring job superseded during dispatch", logging.Field{Key: "job_id", Value: job.ID})
		}
		return nil, ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("starting scan", logging.Field{Key: "error", Value: err.Error()})
		c.phase = PhaseIdle
		c.errMsg = MsgStartFailed
		st := c.commitLocked()
		c.mu.Unlock()
		c.publish(st)
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	if job.Capability == "" {
		job.Capability = capability
	}
	if job.Target == "" {
		job.Target = target
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	c.job = job
	c.progress = job.Progress
	c.phase = PhaseActive

	sess := c.ctrl.Begin(job.ID, mode)
	var streamTimeout <-chan time.Time
	switch mode {
	case model.ModePolling:
		err = c.startPollingLocked(sess)
	case model.ModeStreaming:
		streamTimeout, err = sess.StartTimeout(c.cfg.StreamTimeout)
	}
	if err != nil {
		// Only reachable on a programming error in session setup.
		c.logger.Error("registering session resources", logging.Field{Key: "error", Value: err.Error()})
		c.finishLocked(sess, MsgStartFailed)
		st := c.commitLocked()
		c.mu.Unlock()
		c.publish(st)
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	st = c.commitLocked()
	c.mu.Unlock()
	c.publish(st)

	c.logger.Info("scan started",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "mode", Value: string(mode)})

	if mode == model.ModeStreaming {
		c.subscribe(sess, streamTimeout)
	}

	out := *job
	return &out, nil
}
