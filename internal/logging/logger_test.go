package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"nudge/internal/logging"
)

func TestConsoleFormatIncludesComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logging.NewComponentLogger(logger, "presence").Info("device online", "device_id", "abc", "count", 3)

	line := buf.String()
	if !strings.Contains(line, "INFO presence: device online") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "device_id=abc") || !strings.Contains(line, "count=3") {
		t.Fatalf("missing attrs in console line: %q", line)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("published", "topic", "notifications/abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal json log line: %v", err)
	}
	if record["msg"] != "published" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record["level"] != "info" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if record["topic"] != "notifications/abc" {
		t.Fatalf("unexpected topic: %v", record["topic"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should have been filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("should not panic", logging.Error(nil))
}
