package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	prev := GetLevel()
	var buf bytes.Buffer
	SetLevel(level)
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{})
		SetLevel(prev)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  LogLevel
		valid bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"fatal", LevelFatal, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.valid {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.valid)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LevelWarn.String() != "WARN" {
		t.Errorf("LevelWarn.String() = %q", LevelWarn.String())
	}
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("unknown level string = %q", LogLevel(42).String())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, LevelWarn)

	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warnf("shown %d", 3)
	Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below level were written: %s", out)
	}
	if strings.Count(out, "shown") != 2 {
		t.Errorf("expected two messages at or above level, got: %s", out)
	}
}

func TestStructuredOutput(t *testing.T) {
	buf := captureOutput(t, LevelDebug)

	l := Component("pitch")
	l.Info().Float64("hz", 440).Str("note", "A4").Msg("note")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "pitch" || entry["note"] != "A4" || entry["hz"] != 440.0 {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}
