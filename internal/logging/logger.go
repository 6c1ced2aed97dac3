// Package logging wraps zerolog with the component/trace-scoped logger
// shape the rest of the agent is built against.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's severity levels under the names the rest of
// the agent uses.
type Level = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
	FATAL = zerolog.FatalLevel
)

// ParseLevel converts a string to a Level, defaulting to INFO on an
// unrecognized value.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Config holds logger configuration.
type Config struct {
	Level       string
	Output      string // "stdout", "stderr", or a file path
	Component   string
	IncludeFile bool // adds caller file:line
	JSONFormat  bool // false renders a human-readable console writer
}

// Logger is a structured, component-scoped logger built on zerolog.
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New creates a Logger from Config.
func New(cfg *Config) *Logger {
	var out io.Writer = os.Stdout
	switch {
	case cfg.Output == "stderr":
		out = os.Stderr
	case cfg.Output != "" && cfg.Output != "stdout":
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			out = f
		}
	}

	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	zl := ctx.Logger()
	if cfg.IncludeFile {
		zl = zl.With().CallerWithSkipFrameCount(3).Logger()
	}
	return &Logger{zl: zl}
}

// Default returns the process-wide default logger, lazily initialized
// to INFO/stdout/JSON if SetDefault was never called.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger == nil {
			defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "agent", JSONFormat: true})
		}
	})
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// WithComponent returns a derived logger scoped to component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithTraceID returns a derived logger carrying a trace/tick identifier.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{zl: l.zl.With().Str("trace_id", traceID).Logger()}
}

// WithField returns a derived logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a derived logger carrying several extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

// WithError returns a derived logger carrying an error field, or the
// receiver unchanged when err is nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration returns a derived logger carrying a duration field.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{zl: l.zl.With().Dur("duration", d).Logger()}
}

func (l *Logger) Debug(msg string, args ...interface{}) { event(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { event(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { event(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { event(l.zl.Error(), msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { event(l.zl.Fatal(), msg, args) }

// event applies trailing key/value pairs to an in-flight zerolog event,
// matching the key-value calling convention used throughout the agent
// (e.g. Info("order placed", "symbol", sym, "qty", qty)).
func event(e *zerolog.Event, msg string, args []interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
func Fatal(msg string, args ...interface{}) { Default().Fatal(msg, args...) }

func WithComponent(component string) *Logger            { return Default().WithComponent(component) }
func WithTraceID(traceID string) *Logger                { return Default().WithTraceID(traceID) }
func WithField(key string, value interface{}) *Logger   { return Default().WithField(key, value) }
func WithFields(fields map[string]interface{}) *Logger  { return Default().WithFields(fields) }
func WithError(err error) *Logger                       { return Default().WithError(err) }
