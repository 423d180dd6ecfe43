// Package demoserver is a self-contained capability job runner that speaks
// the same HTTP and WebSocket contract as the production backend. Jobs are
// simulated: they step through their lifecycle on a timer and produce canned
// findings for their capability.
package demoserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raysh454/capwatch/internal/backend"
	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"

	_ "modernc.org/sqlite" // SQLite driver
)

// Server is the HTTP + WebSocket surface of the demo backend.
type Server struct {
	cfg      Config
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
	db       *sql.DB
	store    *Store
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer opens the job database and builds the router.
func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("demoserver")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	if cfg.Steps < 0 {
		cfg.Steps = 0
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := chi.NewRouter()
	s := &Server{
		cfg:    cfg,
		router: r,
		logger: logger,
		db:     db,
		store:  store,
		hub:    newHub(),
		ctx:    ctx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/capability-jobs", s.optionsHandler("POST"))
	r.Options("/capability-jobs/{jobID}", s.optionsHandler("GET"))
	r.Options("/capability-jobs/{jobID}/findings", s.optionsHandler("GET"))

	r.Get("/capabilities", s.handleListCapabilities)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/capability-jobs", s.handleCreateJob)
		r.Get("/capability-jobs/{jobID}", s.handleGetJob)
		r.Get("/capability-jobs/{jobID}/findings", s.handleListFindings)

		// WebSocket for streaming capabilities
		r.Get("/ws/capability-jobs/{jobID}", s.handleJobWS)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.APIToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close stops every simulated job and releases the database.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
	s.hub.closeAll()
	if s.db != nil {
		s.db.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Capabilities())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body model.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("decoding create job body", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !body.Capability.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown capability %q", body.Capability))
		return
	}
	body.Target = strings.TrimSpace(body.Target)
	if body.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if body.Priority == "" {
		body.Priority = "normal"
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:         uuid.New().String(),
		Capability: body.Capability,
		Target:     body.Target,
		Priority:   body.Priority,
		Status:     model.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(r.Context(), &job); err != nil {
		s.logger.Warn("creating job", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.simulate(s.ctx, job)
	}()

	s.logger.Info("started job", logging.Field{Key: "job_id", Value: job.ID}, logging.Field{Key: "capability", Value: string(job.Capability)})
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Warn("getting job", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	fs, err := s.store.ListFindings(r.Context(), jobID)
	if err != nil {
		s.logger.Warn("listing findings", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("listed findings", logging.Field{Key: "job_id", Value: jobID}, logging.Field{Key: "count", Value: len(fs)})
	writeJSON(w, http.StatusOK, fs)
}

// WebSockets

func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// The client never sends data; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	for {
		events, finished, changed := s.hub.since(jobID, sent)
		for _, ev := range events {
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
		}
		sent += len(events)
		if len(events) > 0 {
			continue
		}
		if finished {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
				time.Now().Add(time.Second))
			return
		}
		select {
		case <-changed:
		case <-gone:
			s.logger.Info("stream subscriber left", logging.Field{Key: "job_id", Value: jobID})
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev backend.StreamEvent) error {
	raw, err := backend.EncodeEvent(ev)
	if err != nil {
		s.logger.Error("encoding stream event", logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, raw)
}
