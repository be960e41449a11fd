package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line: %v\nraw: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestSetup_WritesJSONWithServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Info("状態遷移が確定しました", slog.String("request_id", "req-1"), slog.Int("attempt", 2))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["msg"] != "状態遷移が確定しました" {
		t.Errorf("msg = %v", e["msg"])
	}
	if e["service"] != ServiceName {
		t.Errorf("service = %v, want %q", e["service"], ServiceName)
	}
	if e["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", e["request_id"])
	}
	if e["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", e["attempt"])
	}
	if _, ok := e["time"]; !ok {
		t.Error("expected time field")
	}
	if e["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", e["level"])
	}
}

func TestSetup_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelWarn)

	l.Info("dropped")
	l.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Errorf("entries = %v, want only the warn entry", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupDefault_SetsGlobalLoggerWithEnvLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv(LevelEnvVar, "debug")

	var buf bytes.Buffer
	l := SetupDefault(&buf)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	slog.Debug("debug via global")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "debug via global" {
		t.Errorf("entries = %v, want the debug entry", entries)
	}
}
