package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewJSONLoggerAddsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger("cvclient", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "batch_id", "b1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "cvclient" || entry["msg"] != "shown" || entry["batch_id"] != "b1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"warn+2":  slog.LevelWarn + 2,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cvclient.log")
	for i := 0; i < 2; i++ {
		w, closeFn, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile() error = %v", err)
		}
		NewJSONLogger("cvclient", "info", w).Info("line")
		if err := closeFn(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := bytes.Count(raw, []byte("\n")); n != 2 {
		t.Fatalf("expected 2 appended lines, got %d", n)
	}
}

func TestOpenFileDefaultsToStderr(t *testing.T) {
	w, closeFn, err := OpenFile("")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if w != os.Stderr {
		t.Fatalf("expected stderr writer")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
