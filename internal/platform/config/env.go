// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Prefix namespaces every environment variable read by ParseEnv.
const Prefix = "ROBOTBATTLE_"

// ParseEnv loads configuration from ROBOTBATTLE_-prefixed environment variables.
//
// Struct tags name the variable without the prefix, so `env:"HTTP_PORT"` reads
// ROBOTBATTLE_HTTP_PORT.
func ParseEnv(target any) error {
	return ParseEnvWithPrefix(target, Prefix)
}

// ParseEnvWithPrefix loads configuration using an explicit variable prefix.
func ParseEnvWithPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
