package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is a deliberately small, framework-agnostic logging interface.
type Logger interface {
	// Debug logs a debug-level message.
	Debug(msg string, fields ...Field)

	// Info logs an informational message.
	Info(msg string, fields ...Field)

	// Warn logs a warning.
	Warn(msg string, fields ...Field)

	// Error logs an error.
	Error(msg string, fields ...Field)

	// With returns a child logger with persistent fields.
	With(fields ...Field) Logger
}

// Field is a simple key/value pair for structured logging fields.
type Field struct {
	Key   string
	Value any
}

// Level orders log severities. Messages below the logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// StdoutLogger is a tiny, structured logger that prints JSON lines.
// Despite the name it can write to any io.Writer; stdout is the default.
type StdoutLogger struct {
	component string
	level     Level
	fields    []Field

	mu  *sync.Mutex
	out io.Writer
}

// NewStdoutLogger creates a StdoutLogger at info level writing to os.Stdout.
func NewStdoutLogger(component string) *StdoutLogger {
	return NewLogger(os.Stdout, component, LevelInfo)
}

// NewLogger creates a JSON-lines logger writing to w.
func NewLogger(w io.Writer, component string, level Level) *StdoutLogger {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutLogger{
		component: component,
		level:     level,
		mu:        &sync.Mutex{},
		out:       w,
	}
}

func (s *StdoutLogger) log(level Level, msg string, fields ...Field) {
	if level < s.level {
		return
	}
	type outEntry struct {
		Level     string         `json:"level"`
		Msg       string         `json:"msg"`
		Component string         `json:"component,omitempty"`
		Time      string         `json:"time"`
		Fields    map[string]any `json:"fields,omitempty"`
	}
	m := make(map[string]any, len(s.fields)+len(fields))
	for _, f := range s.fields {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			m[f.Key] = err.Error()
			continue
		}
		m[f.Key] = f.Value
	}
	entry := outEntry{
		Level:     level.String(),
		Msg:       msg,
		Component: s.component,
		Time:      time.Now().UTC().Format(time.RFC3339),
		Fields:    m,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(entry)
	if err != nil {
		// Fallback simple formatting if JSON marshal fails
		fmt.Fprintf(s.out, "%s %s %v\n", level, msg, m)
		return
	}
	fmt.Fprintln(s.out, string(enc))
}

func (s *StdoutLogger) Debug(msg string, fields ...Field) {
	s.log(LevelDebug, msg, fields...)
}

func (s *StdoutLogger) Info(msg string, fields ...Field) {
	s.log(LevelInfo, msg, fields...)
}

func (s *StdoutLogger) Warn(msg string, fields ...Field) {
	s.log(LevelWarn, msg, fields...)
}

func (s *StdoutLogger) Error(msg string, fields ...Field) {
	s.log(LevelError, msg, fields...)
}

// With returns a child logger. A "component" field replaces the component
// name; every other field is carried on each entry the child writes.
func (s *StdoutLogger) With(fields ...Field) Logger {
	child := &StdoutLogger{
		component: s.component,
		level:     s.level,
		fields:    append([]Field(nil), s.fields...),
		mu:        s.mu,
		out:       s.out,
	}
	for _, f := range fields {
		if f.Key == "component" {
			if str, ok := f.Value.(string); ok {
				child.component = str
				continue
			}
		}
		child.fields = append(child.fields, f)
	}
	return child
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...Field) {}
func (Nop) Info(string, ...Field)  {}
func (Nop) Warn(string, ...Field)  {}
func (Nop) Error(string, ...Field) {}
func (n Nop) With(...Field) Logger { return n }
