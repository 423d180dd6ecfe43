package demoserver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

type findingTemplate struct {
	severity        model.Severity
	title           string
	description     string
	recommendations []string
}

// catalog holds the canned findings each capability cycles through.
var catalog = map[model.Capability][]findingTemplate{
	model.CapabilityExposureDiscovery: {
		{model.SeverityHigh, "Exposed admin panel", "An administrative login page is reachable from the internet.", []string{"Restrict the panel to a VPN or allow-list", "Enforce MFA for administrators"}},
		{model.SeverityMedium, "Outdated TLS configuration", "The server accepts TLS 1.0 connections.", []string{"Disable TLS 1.0 and 1.1"}},
		{model.SeverityLow, "Directory listing enabled", "Directory indexes are served for static paths.", []string{"Disable autoindex"}},
		{model.SeverityInfo, "Forgotten subdomain", "A subdomain resolves to an unmaintained host.", []string{"Remove the DNS record or decommission the host"}},
	},
	model.CapabilityDarkWebIntelligence: {
		{model.SeverityCritical, "Credential dump mention", "Employee credentials appear in a paste site dump.", []string{"Force password resets for affected accounts", "Review sign-in logs"}},
		{model.SeverityHigh, "Brand impersonation", "A marketplace listing impersonates the organisation.", []string{"File a takedown request"}},
		{model.SeverityMedium, "Leaked internal document", "An internal document is referenced on a forum.", []string{"Confirm the document's origin", "Rotate any secrets it contains"}},
		{model.SeverityInfo, "Forum chatter", "The organisation is discussed on an underground forum.", nil},
	},
	model.CapabilityEmailSecurity: {
		{model.SeverityHigh, "Missing DMARC record", "No DMARC policy is published for the domain.", []string{"Publish a DMARC record starting with p=none", "Move to p=quarantine once reports are clean"}},
		{model.SeverityMedium, "Permissive SPF record", "The SPF record ends in ~all.", []string{"Tighten the SPF record to -all"}},
		{model.SeverityLow, "No MTA-STS policy", "Inbound mail transport is not protected by MTA-STS.", []string{"Publish an MTA-STS policy"}},
	},
	model.CapabilityInfrastructureTesting: {
		{model.SeverityCritical, "Remote code execution", "An exposed service runs a version with a known RCE.", []string{"Patch the service immediately"}},
		{model.SeverityHigh, "Default credentials", "A network device accepts vendor default credentials.", []string{"Change the credentials", "Restrict management access"}},
		{model.SeverityMedium, "SMB signing disabled", "SMB signing is not required on a file server.", []string{"Require SMB signing"}},
		{model.SeverityLow, "ICMP timestamp response", "The host answers ICMP timestamp requests.", []string{"Filter ICMP timestamp requests"}},
	},
}

// simulate drives job through its lifecycle, persisting each change and
// publishing it to stream subscribers. It returns early when ctx ends.
func (s *Server) simulate(ctx context.Context, job model.Job) {
	logger := s.logger.With(logging.Field{Key: "job_id", Value: job.ID})

	update := func(status model.JobStatus, progress float64, errMsg string) bool {
		if err := s.store.UpdateJob(ctx, job.ID, status, progress, errMsg); err != nil {
			logger.Warn("updating job", logging.Field{Key: "error", Value: err.Error()})
			return false
		}
		return true
	}
	defer s.hub.finish(job.ID)

	if !s.sleep(ctx) || !update(model.JobQueued, 0, "") {
		return
	}
	s.hub.publish(job.ID, backend.StreamEvent{Type: backend.EventProgress, JobID: job.ID, Progress: 0, Message: "queued"})

	if !s.sleep(ctx) || !update(model.JobRunning, 0, "") {
		return
	}

	templates := catalog[job.Capability]
	steps := s.cfg.Steps
	for i := 1; i <= steps; i++ {
		if !s.sleep(ctx) {
			return
		}
		f := newFinding(templates[(i-1)%len(templates)], job, i)
		if err := s.store.AddFinding(ctx, job.ID, i, f); err != nil {
			logger.Warn("storing finding", logging.Field{Key: "error", Value: err.Error()})
			return
		}
		s.hub.publish(job.ID, backend.StreamEvent{Type: backend.EventFinding, JobID: job.ID, Finding: &f})

		progress := float64(i*100) / float64(steps+1)
		if !update(model.JobRunning, progress, "") {
			return
		}
		s.hub.publish(job.ID, backend.StreamEvent{
			Type:     backend.EventProgress,
			JobID:    job.ID,
			Progress: progress,
			Message:  fmt.Sprintf("step %d of %d", i, steps),
		})
	}

	if !s.sleep(ctx) {
		return
	}
	if slices.Contains(s.cfg.FailTargets, job.Target) {
		const msg = "target unreachable"
		if update(model.JobFailed, 0, msg) {
			s.hub.publish(job.ID, backend.StreamEvent{Type: backend.EventError, JobID: job.ID, Message: msg})
			logger.Info("job failed")
		}
		return
	}
	if update(model.JobCompleted, 100, "") {
		s.hub.publish(job.ID, backend.StreamEvent{
			Type:    backend.EventComplete,
			JobID:   job.ID,
			Summary: map[string]any{"findings": steps},
		})
		logger.Info("job completed", logging.Field{Key: "findings", Value: steps})
	}
}

func (s *Server) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.StepDelay):
		return true
	}
}

func newFinding(t findingTemplate, job model.Job, seq int) model.Finding {
	return model.Finding{
		ID:          uuid.New().String(),
		Severity:    t.severity,
		Title:       t.title,
		Description: t.description,
		Evidence: map[string]any{
			"target": job.Target,
			"step":   seq,
		},
		Recommendations: t.recommendations,
		DiscoveredAt:    time.Now().UTC(),
	}
}
