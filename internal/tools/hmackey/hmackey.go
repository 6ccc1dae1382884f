// Package hmackey generates session signing keys for the game service.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/robotbattle/internal/platform/config"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/identity"
)

// EnvName is the variable the game service reads its signing key from.
const EnvName = config.Prefix + "SESSION_SIGNING_KEY"

// Config holds configuration for key generation.
type Config struct {
	Bytes int
	// Bare prints only the hex key.
	Bare bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: identity.MinKeyBytes}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes")
	fs.BoolVar(&cfg.Bare, "bare", false, "print only the hex key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes it to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < identity.MinKeyBytes {
		return fmt.Errorf("bytes must be at least %d", identity.MinKeyBytes)
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	key := hex.EncodeToString(buf)
	if cfg.Bare {
		_, err := fmt.Fprintln(out, key)
		return err
	}
	_, err := fmt.Fprintf(out, "%s=%s\n", EnvName, key)
	return err
}
