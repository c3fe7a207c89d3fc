package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// levelNames maps slog levels to the names written in log output.
var levelNames = map[slog.Level]string{
	traceLevelValue: "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// levelName returns the output name of a level.
func levelName(level slog.Level) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return level.String()
}

// newTextHandler creates the console handler. Timestamps are dropped and the
// level is padded so messages line up.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					name := levelName(lvl)
					if pad := maxLevelWidth - len(name); pad > 0 {
						name += strings.Repeat(" ", pad)
					}
					return slog.String(slog.LevelKey, name)
				}
			}
			return localizeTime(a, tz)
		},
	})
}

// newJSONHandler creates a file handler with RFC3339 timestamps in tz.
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, levelName(lvl))
				}
			}
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			}
			return localizeTime(a, tz)
		},
	})
}

// localizeTime converts time attribute values to the configured timezone.
func localizeTime(a slog.Attr, tz *time.Location) slog.Attr {
	if tz != nil && a.Value.Kind() == slog.KindTime {
		return slog.Time(a.Key, a.Value.Time().In(tz))
	}
	return a
}

// parseSlogLevel converts a LogLevel to a slog.Level.
func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// NewSlogLogger creates a standalone Logger writing text to w.
// A nil writer discards output and a nil timezone means UTC.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	if tz == nil {
		tz = time.UTC
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, slogLevel, tz)),
		level:    slogLevel,
		timezone: tz,
	}
}

// NewDiscardLogger returns a Logger that drops everything. Used as a default
// in constructors that accept an optional logger.
func NewDiscardLogger() Logger {
	return &moduleLogger{
		logger: slog.New(discardHandler{}),
		level:  slog.LevelError + 1,
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
