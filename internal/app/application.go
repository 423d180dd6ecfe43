package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raysh454/capwatch/internal/archive"
	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/logging"
)

// Application is the global runtime state container.
// It holds config and the core services that are shared across surfaces
// (coordinator, archive, logger). Pass Application into the commands that
// need it rather than using package-level variables.
type Application struct {
	Config      *Config
	Logger      logging.Logger
	Coordinator *Coordinator

	// Archive is nil when ArchivePath is empty.
	Archive *archive.Store

	mu       sync.Mutex
	recorded map[string]bool
}

// NewApplication wires the HTTP client, the stream dialer, the coordinator
// and, if configured, the archive. Extra options are passed to the coordinator.
func NewApplication(cfg *Config, logger logging.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	client, err := backend.NewClient(cfg.Backend, logger, nil)
	if err != nil {
		return nil, err
	}
	dialer, err := backend.NewWSDialer(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	a := &Application{
		Config:   cfg,
		Logger:   logger,
		recorded: make(map[string]bool),
	}

	if cfg.ArchivePath != "" {
		path, err := ExpandPath(cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		store, err := archive.Open(path)
		if err != nil {
			return nil, err
		}
		a.Archive = store
	}

	opts = append([]Option{WithObserver(a.Record)}, opts...)
	a.Coordinator = NewCoordinator(cfg, client, dialer, logger, opts...)
	return a, nil
}

// Start logs the effective backend. It starts no background work; scans run
// only when submitted.
func (a *Application) Start() error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.Field{Key: "backend", Value: a.Config.Backend.BaseURL},
		logging.Field{Key: "archive", Value: a.Archive != nil})
	return nil
}

// Record archives st if it describes a scan the coordinator ended itself. It
// is registered as a coordinator observer and ignores every other state,
// including a scan abandoned by Dispose; calling it again for an archived job
// is a no-op.
func (a *Application) Record(st State) {
	if st.Scanning() || !st.Finished || st.Job == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Archive == nil || a.recorded[st.Job.ID] {
		return
	}
	a.recorded[st.Job.ID] = true

	rec := &archive.ScanRecord{
		JobID:      st.Job.ID,
		Capability: st.Job.Capability,
		Target:     st.Job.Target,
		Status:     st.Job.Status,
		Error:      st.Error,
		Findings:   st.Findings,
		StartedAt:  st.Job.CreatedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err := a.Archive.Save(rec); err != nil {
		a.Logger.Warn("archiving scan", logging.Field{Key: "job_id", Value: rec.JobID}, logging.Field{Key: "error", Value: err.Error()})
	}
}

// Shutdown stops listening to any live scan and closes the archive.
func (a *Application) Shutdown(_ context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	if a.Coordinator != nil {
		a.Coordinator.Dispose()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Archive != nil {
		store := a.Archive
		a.Archive = nil
		if err := store.Close(); err != nil {
			return err
		}
	}
	return nil
}
