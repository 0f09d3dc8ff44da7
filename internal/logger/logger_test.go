package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"trace", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLogger_WritesJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	InitLogger(LevelDebug, logPath)
	defer Close()

	Info("test message", "key", "value")

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("expected msg %q, got %v", "test message", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key=value attribute, got %v", entry["key"])
	}
}

func TestInitLogger_LevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	InitLogger(LevelWarn, logPath)
	defer Close()

	Debug("should be dropped")
	Info("should be dropped too")
	Warn("should appear")

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if count := len(splitLines(raw)); count != 1 {
		t.Errorf("expected 1 log line, got %d: %s", count, raw)
	}
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				lines = append(lines, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}
