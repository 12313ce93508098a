package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("tbf", Warn, &buf)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug/info entries to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN  [tbf] shown 3") {
		t.Errorf("Expected warn entry, got %q", out)
	}
	if !strings.Contains(out, "ERROR [tbf] shown 4") {
		t.Errorf("Expected error entry, got %q", out)
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("tbf", Debug, &buf).Named("directory")

	l.Info("opened")

	if !strings.Contains(buf.String(), "[tbf/directory] opened") {
		t.Errorf("Expected nested name, got %q", buf.String())
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("tbf", Info, &buf)
	l.JSON = true

	l.Info("added file %s", "0000000000000100")

	var entry logEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if entry.Level != "INFO" || entry.Service != "tbf" || entry.Message != "added file 0000000000000100" {
		t.Errorf("Unexpected entry %+v", entry)
	}
}

func TestLogger_Discard(t *testing.T) {
	l := NewDiscardLogger()
	if l.Enabled(Fatal) {
		t.Error("Expected discard logger to be disabled for every level")
	}
}

func TestParse(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   Debug,
		"INFO":    Info,
		"":        Info,
		"warning": Warn,
		"error":   Error,
		"off":     Off,
	}

	for input, want := range cases {
		got, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", input, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := Parse("verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestLogger_Colored(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("tbf", Debug, &buf)
	l.NoColor = false

	l.Error("failed")

	out := buf.String()
	if !strings.HasPrefix(out, Error.color()) || !strings.HasSuffix(out, colorReset+"\n") {
		t.Errorf("Expected entry wrapped in error color, got %q", out)
	}
	if Off.color() != colorReset {
		t.Errorf("Expected reset sequence for levels without color")
	}
}
