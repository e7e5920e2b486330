// Package logging builds the structured loggers used by joinq components.
//
// Components accept a *slog.Logger and fall back to Discard when none is
// given. Queue faults that the caller cannot observe any other way are logged
// at LevelCritical, which sits above slog.LevelError.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelCritical marks faults that are swallowed rather than returned.
const LevelCritical = slog.LevelError + 4

// Format selects the handler used by New.
type Format string

const (
	// FormatText writes logfmt-style key=value lines.
	FormatText Format = "text"

	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	// Level is the minimum level written. Defaults to slog.LevelInfo.
	Level slog.Level

	// Format is the output encoding. Defaults to FormatText.
	Format Format

	// Component, if set, is attached to every record as component=<value>.
	Component string
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: replaceLevel,
	}

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}

	logger := slog.New(h)
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelCritical + 1}))
}

// OrDiscard returns l, or Discard if l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Critical logs msg at LevelCritical.
func Critical(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}

// ParseLevel converts a level name to a slog.Level. An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical", "crit":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}
