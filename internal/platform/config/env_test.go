package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port    int           `env:"TEST_PORT" envDefault:"123"`
	Timeout time.Duration `env:"TEST_TIMEOUT" envDefault:"2s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("expected default timeout 2s, got %v", cfg.Timeout)
	}
}

func TestParseEnvReadsPrefixedVariables(t *testing.T) {
	t.Setenv("ROBOTBATTLE_TEST_PORT", "9000")
	t.Setenv("TEST_PORT", "1")

	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Port)
	}
}

func TestParseEnvWithPrefixUsesCustomPrefix(t *testing.T) {
	t.Setenv("OTHER_TEST_PORT", "77")

	var cfg envTestConfig
	if err := ParseEnvWithPrefix(&cfg, "OTHER_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 77 {
		t.Fatalf("port = %d, want 77", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("ROBOTBATTLE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
