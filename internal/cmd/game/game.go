// Package game parses game command flags and starts the game runtime.
package game

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/robotbattle/internal/platform/cmd"
	server "github.com/louisbranch/robotbattle/internal/services/game/app"
)

// ParseConfig parses environment and flags into a server config. Flags win
// over ROBOTBATTLE_* variables.
func ParseConfig(fs *flag.FlagSet, args []string) (server.Config, error) {
	var cfg server.Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return server.Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The HTTP API port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP API listen address (overrides -http-port)")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The gRPC health port")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address (overrides -grpc-port)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Store backend: sqlite or memory")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return server.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

// Run starts the game service.
func Run(ctx context.Context, cfg server.Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return server.Run(ctx, cfg)
	})
}
