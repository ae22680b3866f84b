package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"off", zerolog.Disabled},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	if f, _ := ParseFormat(""); f != FormatAuto {
		t.Errorf("empty = %q, want auto", f)
	}
	if f, _ := ParseFormat("text"); f != FormatConsole {
		t.Errorf("text = %q, want console", f)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewAutoUsesJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Out: &buf, App: "fleet-publish"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Str("title", "Firefox").Msg("publishing")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["title"] != "Firefox" {
		t.Errorf("title = %v, want Firefox", entry["title"])
	}
	if entry["app"] != "fleet-publish" {
		t.Errorf("app = %v, want fleet-publish", entry["app"])
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Out: &buf, Format: FormatConsole})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q, want message", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Error("console output should not be JSON")
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Out: &buf, Format: FormatJSON, Level: "warn"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn message missing")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "nope"}); err == nil {
		t.Fatal("expected error")
	}
}
