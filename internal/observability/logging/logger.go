// Package logging builds the JSON slog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewJSONLogger writes JSON lines to w (stderr when nil), tagged with service.
func NewJSONLogger(service, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("service", service)
}

// OpenFile opens path for appending log lines. An empty path means stderr and a no-op closer.
// The interactive client points this at a file so log lines do not tear the screen.
func OpenFile(path string) (io.Writer, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return os.Stderr, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f.Close, nil
}

// ParseLevel accepts slog level names ("debug", "warn+2", ...) plus "warning".
// Anything unparseable is info.
func ParseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
