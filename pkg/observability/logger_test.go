package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func parseLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	decoder := json.NewDecoder(buf)
	for decoder.More() {
		var line map[string]interface{}
		if err := decoder.Decode(&line); err != nil {
			t.Fatalf("Failed to parse log line: %v", err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("user_id", "u1").Info("membership created")

	lines := parseLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected one line, got %d", len(lines))
	}
	if lines[0]["msg"] != "membership created" {
		t.Errorf("Expected message, got %v", lines[0]["msg"])
	}
	if lines[0]["user_id"] != "u1" {
		t.Errorf("Expected user_id field, got %v", lines[0]["user_id"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Errorf("shown %d", 2)

	lines := parseLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected two lines, got %d", len(lines))
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("dial tcp")).Error("cache unreachable")
	logger.WithError(nil).Info("fine")

	lines := parseLines(t, &buf)
	if lines[0]["error"] != "dial tcp" {
		t.Errorf("Expected error field, got %v", lines[0]["error"])
	}
	if _, ok := lines[1]["error"]; ok {
		t.Error("Expected no error field for a nil error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"ERROR", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q): expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestFromContextEnrichment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "u1")
	ctx = WithTerritoryID(ctx, "t1")

	FromContext(ctx).Info("checked")

	lines := parseLines(t, &buf)
	line := lines[0]
	if line["request_id"] != "req-1" || line["user_id"] != "u1" || line["territory_id"] != "t1" {
		t.Errorf("Expected context fields, got %v", line)
	}
}
