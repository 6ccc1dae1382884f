package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/robotbattle/internal/platform/config"
	"github.com/louisbranch/robotbattle/internal/platform/timeouts"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/coordinator"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// EnvironmentDevelopment allows an ephemeral signing key.
const EnvironmentDevelopment = "development"

// Config holds the game service configuration.
type Config struct {
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8090"`
	HTTPAddr string `env:"HTTP_ADDR"`
	GRPCPort int    `env:"GRPC_PORT" envDefault:"8091"`
	GRPCAddr string `env:"GRPC_ADDR"`

	Store  string `env:"STORE" envDefault:"sqlite"`
	DBPath string `env:"GAME_DB_PATH" envDefault:"data/game.db"`

	SessionSigningKey string        `env:"SESSION_SIGNING_KEY"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"48h"`
	ActiveGameTTL     time.Duration `env:"ACTIVE_GAME_TTL" envDefault:"24h"`
	CompletedGameTTL  time.Duration `env:"COMPLETED_GAME_TTL" envDefault:"1h"`

	JoinTimeout       time.Duration `env:"JOIN_TIMEOUT" envDefault:"10m"`
	TurnTimeout       time.Duration `env:"TURN_TIMEOUT" envDefault:"24h"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"2m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	ResolveWorkers int `env:"RESOLVE_WORKERS" envDefault:"4"`
	ResolveQueue   int `env:"RESOLVE_QUEUE" envDefault:"64"`

	WinRule   string `env:"WIN_RULE" envDefault:"never"`
	TurnLimit int    `env:"TURN_LIMIT"`
	WinScript string `env:"WIN_SCRIPT"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store)) {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.ResolveWorkers <= 0 {
		return fmt.Errorf("resolve workers must be positive, got %d", c.ResolveWorkers)
	}
	if c.ResolveQueue < 0 {
		return fmt.Errorf("resolve queue must not be negative, got %d", c.ResolveQueue)
	}
	// A running resolution must time out before the sweeper may revert it.
	if c.ProcessingTimeout != 0 && c.ProcessingTimeout <= timeouts.ResolveTurn {
		return fmt.Errorf("processing timeout must exceed the %s resolve timeout, got %s", timeouts.ResolveTurn, c.ProcessingTimeout)
	}
	return nil
}

func (c Config) httpListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c Config) grpcListenAddr() string {
	if c.GRPCAddr != "" {
		return c.GRPCAddr
	}
	return fmt.Sprintf(":%d", c.GRPCPort)
}

func (c Config) sweepConfig() coordinator.SweepConfig {
	return coordinator.SweepConfig{
		Interval:          c.SweepInterval,
		JoinTimeout:       c.JoinTimeout,
		TurnTimeout:       c.TurnTimeout,
		ProcessingTimeout: c.ProcessingTimeout,
	}
}
