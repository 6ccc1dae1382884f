package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Service: "game", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Str("gameId", "g1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["service"] != "game" {
		t.Fatalf("service = %v, want game", line["service"])
	}
	if line["gameId"] != "g1" {
		t.Fatalf("gameId = %v, want g1", line["gameId"])
	}
	if line["message"] != "hello" {
		t.Fatalf("message = %v, want hello", line["message"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "WARN", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestNewRejectsUnknownLevelAndFormat(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSetupInstallsGlobalLogger(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	if err := Setup(Options{Service: "test", Format: FormatConsole, Output: &buf}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	log.Info().Msg("global")
	if !strings.Contains(buf.String(), "global") {
		t.Fatalf("expected global logger output, got %q", buf.String())
	}
}
