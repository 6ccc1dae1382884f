// Package id generates opaque identifiers for games, sessions, and players.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 encoding of a random v4 UUID.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// NewPrefixedID returns prefix_ followed by the first n characters of NewID.
func NewPrefixedID(prefix string, n int) (string, error) {
	raw, err := NewID()
	if err != nil {
		return "", err
	}
	if n <= 0 || n > len(raw) {
		n = len(raw)
	}
	return prefix + "_" + raw[:n], nil
}
