// Command game serves the robotbattle HTTP API and its gRPC health probe.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	gamecmd "github.com/louisbranch/robotbattle/internal/cmd/game"
	"github.com/louisbranch/robotbattle/internal/platform/config"
)

func main() {
	fs := flag.NewFlagSet("game", flag.ExitOnError)
	cfg, err := gamecmd.ParseConfig(fs, os.Args[1:])
	if err != nil {
		config.Exitf("game: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := gamecmd.Run(ctx, cfg); err != nil {
		config.Exitf("game: %v", err)
	}
}
