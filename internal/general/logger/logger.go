package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ----- Public wire types -----

// ErrorObject is emitted only for error logs.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack,omitempty"`
}

// LogEntry is the single-line JSON format written to the output.
type LogEntry struct {
	Timestamp string       `json:"timestamp"`            // ISO 8601 format timestamp
	Level     string       `json:"level"`                // DEBUG | INFO | WARN | ERROR
	Service   string       `json:"service"`              // service name (e.g., tracker-service)
	Action    string       `json:"action"`               // event name (e.g., event_malformed)
	Message   string       `json:"message"`              // human-readable description
	Hostname  string       `json:"hostname"`             // service hostname
	RequestID string       `json:"request_id,omitempty"` // correlation ID for tracing
	EntityID  string       `json:"entity_id,omitempty"`  // tracked entity (when applicable)
	ConnID    string       `json:"conn_id,omitempty"`    // feed connection (when applicable)
	Details   any          `json:"details,omitempty"`    // optional: extra fields (map or struct)
	Error     *ErrorObject `json:"error,omitempty"`      // optional: error details
}

// ----- Logger -----

type Logger struct {
	service  string
	hostname string
	out      io.Writer
	mu       sync.Mutex
}

// New creates a structured logger for the given service writing to stdout.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a structured logger writing JSON lines to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}

	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}
	if w == nil {
		w = io.Discard
	}

	return &Logger{service: service, hostname: hn, out: w}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard)
}

// emit marshals and prints a single JSON line.
func (l *Logger) emit(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err == nil {
		fmt.Fprintln(l.out, string(b))
		return
	}

	// retry once without Details (common source of marshal errors)
	e.Details = nil
	if b, err := json.Marshal(e); err == nil {
		fmt.Fprintln(l.out, string(b))
		return
	}

	// final structured fallback to keep logs JSON-shaped
	fallback := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     "ERROR",
		"service":   l.service,
		"action":    "logger_marshal_failed",
		"message":   "failed to encode log entry",
		"hostname":  l.hostname,
		"error": ErrorObject{
			Msg:   strings.TrimSpace(err.Error()),
			Stack: string(debug.Stack()),
		},
	}

	if fb, err := json.Marshal(fallback); err == nil {
		fmt.Fprintln(l.out, string(fb))
	} else {
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
	}
}

func (l *Logger) entry(ctx context.Context, level, action, msg string, details any) LogEntry {
	return LogEntry{
		Timestamp: nowISO(),
		Level:     level,
		Service:   l.service,
		Action:    safeAction(action),
		Message:   strings.TrimSpace(msg),
		Hostname:  l.hostname,
		RequestID: fromCtx(ctx, ctxKeyRequestID),
		EntityID:  fromCtx(ctx, ctxKeyEntityID),
		ConnID:    fromCtx(ctx, ctxKeyConnID),
		Details:   details,
	}
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "DEBUG", action, msg, details))
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "INFO", action, msg, details))
}

// Warn writes a WARN line. err may be nil; no stack is attached.
func (l *Logger) Warn(ctx context.Context, action, msg string, err error, details any) {
	e := l.entry(ctx, "WARN", action, msg, details)
	if err != nil {
		e.Error = &ErrorObject{Msg: strings.TrimSpace(err.Error())}
	}
	l.emit(e)
}

// Error writes an ERROR line and attaches an error stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}

	e := l.entry(ctx, "ERROR", action, msg, details)
	e.Error = &ErrorObject{
		Msg:   strings.TrimSpace(err.Error()),
		Stack: string(debug.Stack()),
	}
	l.emit(e)
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "fleet_request_id"
	ctxKeyEntityID  ctxKey = "fleet_entity_id"
	ctxKeyConnID    ctxKey = "fleet_conn_id"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	return withValue(ctx, ctxKeyRequestID, reqID)
}

// WithEntityID returns a new context carrying entity_id.
func (l *Logger) WithEntityID(ctx context.Context, entityID string) context.Context {
	return withValue(ctx, ctxKeyEntityID, entityID)
}

// WithConnID returns a new context carrying conn_id.
func (l *Logger) WithConnID(ctx context.Context, connID string) context.Context {
	return withValue(ctx, ctxKeyConnID, connID)
}

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if strings.TrimSpace(v) == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func fromCtx(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// ----- Small utilities -----

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
