package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/capwatch/internal/logging"
	"github.com/raysh454/capwatch/internal/model"
)

type EventType string

const (
	EventFinding  EventType = "finding"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"

	// Connection diagnostics. They never change scan state.
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// StreamEvent is one decoded push message.
type StreamEvent struct {
	Type  EventType
	JobID string

	// Finding is set for EventFinding.
	Finding *model.Finding

	// Progress is set for EventProgress.
	Progress float64

	// Message carries the progress note, the error text, or the disconnect reason.
	Message string

	// Summary is the EventComplete payload.
	Summary map[string]any
}

// Envelope is the wire format of every stream message.
type Envelope struct {
	Type  EventType       `json:"type"`
	JobID string          `json:"job_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ProgressData is the data of a progress envelope.
type ProgressData struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// ErrorData is the data of an error envelope.
type ErrorData struct {
	Message string `json:"message"`
}

var ErrUnknownEvent = errors.New("unknown stream event type")

// DecodeEvent parses one wire message.
func DecodeEvent(raw []byte) (StreamEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := StreamEvent{Type: env.Type, JobID: env.JobID}
	switch env.Type {
	case EventFinding:
		var f model.Finding
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return StreamEvent{}, fmt.Errorf("decode finding: %w", err)
		}
		ev.Finding = &f
	case EventProgress:
		var p ProgressData
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return StreamEvent{}, fmt.Errorf("decode progress: %w", err)
		}
		ev.Progress = p.Progress
		ev.Message = p.Message
	case EventComplete:
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &ev.Summary); err != nil {
				return StreamEvent{}, fmt.Errorf("decode summary: %w", err)
			}
		}
	case EventError:
		// Some senders put the message string directly in data.
		var e ErrorData
		if err := json.Unmarshal(env.Data, &e); err != nil {
			var s string
			if err2 := json.Unmarshal(env.Data, &s); err2 != nil {
				return StreamEvent{}, fmt.Errorf("decode error: %w", err)
			}
			e.Message = s
		}
		ev.Message = e.Message
	default:
		return StreamEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return ev, nil
}

// EncodeEvent renders ev in wire format. Connection diagnostics are not
// sent over the wire and are rejected.
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	var data any
	switch ev.Type {
	case EventFinding:
		if ev.Finding == nil {
			return nil, errors.New("finding event without finding")
		}
		data = ev.Finding
	case EventProgress:
		data = ProgressData{Progress: ev.Progress, Message: ev.Message}
	case EventComplete:
		data = ev.Summary
	case EventError:
		data = ErrorData{Message: ev.Message}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.Type, JobID: ev.JobID, Data: raw})
}

// WSDialer opens job streams over WebSocket.
type WSDialer struct {
	streamURL *url.URL
	header    http.Header
	dialer    *websocket.Dialer
	logger    logging.Logger
}

var _ StreamDialer = (*WSDialer)(nil)

// NewWSDialer derives the stream root from cfg.StreamURL, falling back to
// cfg.BaseURL with its scheme switched to ws/wss.
func NewWSDialer(cfg Config, logger logging.Logger) (*WSDialer, error) {
	raw := strings.TrimSpace(cfg.StreamURL)
	if raw == "" {
		raw = strings.TrimSpace(cfg.BaseURL)
	}
	if raw == "" {
		return nil, errors.New("backend stream URL is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported stream URL scheme %q", u.Scheme)
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	header := http.Header{}
	if cfg.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.APIToken)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &WSDialer{
		streamURL: u,
		header:    header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		logger: logger.With(logging.Field{Key: "component", Value: "stream"}),
	}, nil
}

// URLFor returns the stream endpoint of a job.
func (d *WSDialer) URLFor(jobID string) string {
	return d.streamURL.JoinPath("ws", "capability-jobs", jobID).String()
}

func (d *WSDialer) Dial(ctx context.Context, jobID string) (Stream, error) {
	u := d.URLFor(jobID)
	conn, resp, err := d.dialer.DialContext(ctx, u, d.header)
	if err != nil {
		fields := []logging.Field{
			{Key: "url", Value: u},
			{Key: "error", Value: err.Error()},
		}
		if resp != nil {
			fields = append(fields, logging.Field{Key: "status", Value: resp.StatusCode})
		}
		d.logger.Warn("stream dial failed", fields...)
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	s := &wsStream{
		jobID:  jobID,
		conn:   conn,
		events: make(chan StreamEvent, 32),
		done:   make(chan struct{}),
		logger: d.logger.With(logging.Field{Key: "job_id", Value: jobID}),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	jobID     string
	conn      *websocket.Conn
	events    chan StreamEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    logging.Logger
}

func (s *wsStream) Events() <-chan StreamEvent {
	return s.events
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(250*time.Millisecond))
		err = s.conn.Close()
		s.logger.Debug("stream closed")
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.events)

	if !s.emit(StreamEvent{Type: EventConnect, JobID: s.jobID}) {
		return
	}
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Debug("stream read ended", logging.Field{Key: "error", Value: err.Error()})
			s.emit(StreamEvent{Type: EventDisconnect, JobID: s.jobID, Message: err.Error()})
			return
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			s.logger.Warn("dropping undecodable stream message", logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		if ev.JobID == "" {
			ev.JobID = s.jobID
		}
		if !s.emit(ev) {
			return
		}
	}
}

func (s *wsStream) emit(ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
