// Package logger provides structured, module-aware logging built on log/slog.
//
// Every package obtains a module-scoped logger from the central logger and
// logs with typed fields:
//
//	log := logger.Global().Module("stream")
//	log.Info("client admitted",
//	    logger.String("remote_addr", conn.RemoteAddr()),
//	    logger.Int("clients", n))
//
// Module loggers nest, so Module("stream").Module("consumer") logs with
// module="stream.consumer". Per-module levels and per-module log files are
// configured under the logging section of config.yaml:
//
//	logging:
//	  default_level: info
//	  console:
//	    enabled: true
//	    level: info
//	  file_output:
//	    enabled: true
//	    path: logs/feedercam.log
//	    level: debug
//	  module_levels:
//	    stream: debug
//	  modules:
//	    access:
//	      enabled: true
//	      file_path: logs/access.log
//
// Console output is human-readable text without timestamps; journald and
// Docker add their own. File output is JSON with RFC3339 timestamps.
//
// Tests that need to inspect output use NewSlogLogger with a buffer:
//
//	buf := &bytes.Buffer{}
//	log := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field.
// Keys are interned with unique.Make so the same key used by every frame
// log line shares a single allocation.
type Field struct {
	Key   string
	Value any
}

// internKey returns an interned version of the key string.
// This ensures repeated keys share the same underlying memory.
func internKey(key string) string {
	return unique.Make(key).Value()
}

// Pre-interned common keys for zero-allocation access
var (
	errorKey = internKey("error")
)

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	// Leveled logging methods
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Context-aware logging
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	// Log with explicit level
	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// Field constructors. Keys are interned, values are kept typed so the JSON
// file output stays queryable.
//
//	log.Debug("frame published",
//	    logger.Uint64("seq", seq),
//	    logger.Int("bytes", len(frame)),
//	    logger.Duration("elapsed", time.Since(start)))

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an int field for counts and sizes.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates a uint64 field, used for frame sequence numbers and byte totals.
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float64 field. Output is rounded to 3 decimals.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error"; a nil error logs as nil.
//
//	if err := store.Publish(ctx, frame); err != nil {
//	    log.Warn("publish failed", logger.Error(err), logger.Uint64("seq", seq))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field. Output is rounded to milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field holding an arbitrary value, rendered by slog.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
