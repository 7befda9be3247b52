package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Output: &buf})
	l.Info("entity upserted", "id", "abc")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if line["msg"] != "entity upserted" || line["id"] != "abc" {
		t.Fatalf("line = %v", line)
	}
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleLogger(ConsoleLoggerParams{Output: &buf}).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug message written at info level: %q", buf.String())
	}

	buf.Reset()
	NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf}).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug message missing: %q", buf.String())
	}
}
