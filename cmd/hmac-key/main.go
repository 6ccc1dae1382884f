// Command hmac-key prints a fresh session signing key for the game service.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/robotbattle/internal/platform/config"
	"github.com/louisbranch/robotbattle/internal/tools/hmackey"
)

func main() {
	fs := flag.NewFlagSet("hmac-key", flag.ExitOnError)
	cfg, err := hmackey.ParseConfig(fs, os.Args[1:])
	if err != nil {
		config.Exitf("hmac-key: %v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("hmac-key: %v", err)
	}
}
