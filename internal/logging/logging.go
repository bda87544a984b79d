// Package logging builds the process logger: human-readable lines on stdout
// at the configured level, and errors duplicated as JSON on stderr for log
// collectors.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// New returns a logger writing to stdout and stderr. format is "text" or
// "json" and applies to the stdout handler.
func New(level, format string) (*slog.Logger, error) {
	return NewWithWriters(level, format, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit destinations.
func NewWithWriters(level, format string, out, errOut io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var primary slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		primary = slog.NewTextHandler(out, opts)
	case "json":
		primary = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	errors := slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(slogmulti.Fanout(primary, errors)), nil
}
