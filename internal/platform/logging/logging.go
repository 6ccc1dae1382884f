// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects how log lines are rendered.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatConsole writes human-readable colored lines.
	FormatConsole Format = "console"
)

// Options controls logger construction.
type Options struct {
	Service string
	Level   string
	Format  Format
	Output  io.Writer
}

// New builds a logger tagged with the service name.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", raw, err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	switch opts.Format {
	case "", FormatJSON:
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if service := strings.TrimSpace(opts.Service); service != "" {
		ctx = ctx.Str("service", service)
	}
	return ctx.Logger(), nil
}

// Setup builds a logger and installs it as the global zerolog logger.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = logger
	return nil
}
