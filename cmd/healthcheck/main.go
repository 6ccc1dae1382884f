// Command healthcheck exits non-zero unless the game service reports SERVING.
package main

import (
	"context"
	"flag"
	"os"

	healthcheckcmd "github.com/louisbranch/robotbattle/internal/cmd/healthcheck"
	"github.com/louisbranch/robotbattle/internal/platform/config"
)

func main() {
	fs := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	cfg, err := healthcheckcmd.ParseConfig(fs, os.Args[1:])
	if err != nil {
		config.Exitf("healthcheck: %v", err)
	}
	if err := healthcheckcmd.Run(context.Background(), cfg); err != nil {
		config.Exitf("healthcheck: %v", err)
	}
}
