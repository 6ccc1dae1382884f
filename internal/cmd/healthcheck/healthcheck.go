// Package healthcheck probes a running game service over gRPC health.
package healthcheck

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	entrypoint "github.com/louisbranch/robotbattle/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/robotbattle/internal/platform/grpc"
	"github.com/louisbranch/robotbattle/internal/platform/timeouts"
)

// Config holds healthcheck command configuration.
type Config struct {
	Addr    string        `env:"HEALTHCHECK_ADDR" envDefault:"127.0.0.1:8091"`
	Timeout time.Duration `env:"HEALTHCHECK_TIMEOUT" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The game gRPC health address")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "How long to wait for SERVING")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.GRPCDial
	}
	return cfg, nil
}

// Run dials the health endpoint and returns nil once it reports SERVING.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceHealthcheck, entrypoint.RunOptions{SkipLogging: true}, func(ctx context.Context) error {
		return Probe(ctx, cfg)
	})
}

// Probe performs one health wait without telemetry setup.
func Probe(ctx context.Context, cfg Config) error {
	conn, err := platformgrpc.DialWithHealth(ctx, cfg.Addr, cfg.Timeout, func(format string, args ...any) {
		log.Debug().Str("addr", cfg.Addr).Msgf(format, args...)
	})
	if err != nil {
		return fmt.Errorf("game at %s is not healthy: %w", cfg.Addr, err)
	}
	return conn.Close()
}
