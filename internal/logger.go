package internal

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger returns the process logger. Development gets readable text;
// every other environment gets JSON for the log shipper. Each record
// carries the service name and environment.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLogLevel(level),
		AddSource: env == "development",
	}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", "cadence", "env", env)
}

// ParseLogLevel reads LOG_LEVEL. Offsets such as "warn+2" are accepted;
// anything unreadable falls back to info.
func ParseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
