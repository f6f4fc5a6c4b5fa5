package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NEXORA-Studios/NovaCL/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	log.Info("hidden")
	log.Warn("shown", "id", "abc")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["id"] != "abc" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "novacl.log")
	log, closer, err := New(config.LogConfig{Format: "text", File: path, MaxSizeMB: 1}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("to both", "id", "x")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(got), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Fatalf("expected message in file and stdout, file=%q out=%q", got, buf.String())
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, _, err := New(config.LogConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error")
	}
}
