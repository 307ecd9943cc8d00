// Package logger is the structured logger shared by every clusterctl
// component. It wraps log/slog and stamps records logged with a traced
// context with the trace and span IDs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Level is a logging threshold.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	DebugLevel: {"debug", slog.LevelDebug},
	InfoLevel:  {"info", slog.LevelInfo},
	WarnLevel:  {"warn", slog.LevelWarn},
	ErrorLevel: {"error", slog.LevelError},
}

func (l Level) valid() bool { return l >= DebugLevel && l <= ErrorLevel }

func (l Level) String() string {
	if !l.valid() {
		return "unknown"
	}
	return levels[l].name
}

func (l Level) slog() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return levels[l].slog
}

// ParseLevel parses a level name. "warning" is accepted for warn and
// anything unrecognised is info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	for l := range levels {
		if levels[l].name == s {
			return Level(l)
		}
	}
	return InfoLevel
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "json" (default) or "text"
	Output string // "stdout" (default), "stderr" or a file path
	// Writer takes precedence over Output.
	Writer io.Writer
	// AddSource records the caller's file and line.
	AddSource bool
}

// Logger is the logging interface passed to every component.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithContext(ctx context.Context) context.Context

	SetLevel(level Level)
	GetLevel() Level

	// Close releases the output file, if this logger opened one.
	Close() error
}

// threshold is the level shared by a logger and all of its With children.
type threshold struct {
	v     slog.LevelVar
	level atomic.Int32
}

func (t *threshold) set(l Level) {
	t.level.Store(int32(l))
	t.v.Set(l.slog())
}

// SlogLogger implements Logger on log/slog.
type SlogLogger struct {
	sl     *slog.Logger
	level  *threshold
	output io.Closer
}

// New creates a logger. A nil cfg logs info and above as JSON to stdout.
// An output file that cannot be opened is replaced by stderr, with a
// record saying so.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel}
	}

	level := &threshold{}
	level.set(cfg.Level)

	w, closer, openErr := cfg.Writer, io.Closer(nil), error(nil)
	if w == nil {
		w, closer, openErr = openOutput(cfg.Output)
	}

	opts := &slog.HandlerOptions{Level: &level.v, AddSource: cfg.AddSource, ReplaceAttr: renameKeys}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	l := &SlogLogger{sl: slog.New(traceHandler{h}), level: level, output: closer}
	if openErr != nil {
		l.Warn("log output unavailable, using stderr", "output", cfg.Output, "error", openErr)
	}
	return l
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return New(&Config{Level: ErrorLevel, Writer: io.Discard})
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr, nil, fmt.Errorf("open %s: %w", output, err)
	}
	return f, f, nil
}

// renameKeys writes "message" instead of "msg" and lower-cases levels.
func renameKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.MessageKey:
			a.Key = "message"
		case slog.LevelKey:
			a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
		}
	}
	return a
}

// traceHandler adds trace_id and span_id to records whose context carries
// a valid span.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

func (l *SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sl.DebugContext(ctx, msg, args...)
}

func (l *SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sl.InfoContext(ctx, msg, args...)
}

func (l *SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sl.WarnContext(ctx, msg, args...)
}

func (l *SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sl.ErrorContext(ctx, msg, args...)
}

// With returns a child that adds args to every record. The child follows
// the parent's level and never closes the parent's output.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{sl: l.sl.With(args...), level: l.level}
}

// WithContext returns ctx carrying l, for FromContext.
func (l *SlogLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// SetLevel changes the threshold of l and of every logger derived from it.
func (l *SlogLogger) SetLevel(level Level) { l.level.set(level) }

func (l *SlogLogger) GetLevel() Level { return Level(l.level.level.Load()) }

func (l *SlogLogger) Close() error {
	if l.output == nil {
		return nil
	}
	return l.output.Close()
}

type ctxKey struct{}

// FromContext returns the logger stored by WithContext, or the global one.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
			return l
		}
	}
	return Global()
}

var global atomic.Pointer[Logger]

func init() {
	l := New(&Config{Level: InfoLevel, Format: "text"})
	global.Store(&l)
}

// Global returns the process-wide logger used where none is injected.
func Global() Logger { return *global.Load() }

// SetGlobal replaces the process-wide logger. nil is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(&l)
	}
}
