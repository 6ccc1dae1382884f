// Package identity issues and verifies player credentials.
//
// A credential is an HS256 JWT naming the player (sub) and the game (gid).
// Every credential also has a session record keyed by its jti; deleting the
// record revokes the credential before it expires, and each successful
// resolution slides the record's TTL forward.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/id"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

const (
	// DefaultSessionTTL bounds credential lifetime.
	DefaultSessionTTL = 48 * time.Hour
	// MinKeyBytes is the shortest accepted signing key.
	MinKeyBytes = 32

	playerIDLength = 12
	signingMethod  = "HS256"
	fieldPlayerID  = "player_id"
	fieldGameID    = "game_id"
	fieldIssuedAt  = "issued_at"
)

// Identity is the caller behind a verified credential.
type Identity struct {
	PlayerID  string
	GameID    string
	SessionID string
}

type claims struct {
	jwt.RegisteredClaims
	GameID string `json:"gid"`
}

// Issuer issues and resolves credentials.
type Issuer struct {
	store storage.Store
	key   []byte
	ttl   time.Duration
	now   func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the issuer clock.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// DecodeKey parses a hex signing key.
func DecodeKey(value string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyBytes, len(key))
	}
	return key, nil
}

// NewIssuer creates an issuer signing with key.
func NewIssuer(store storage.Store, key []byte, opts ...Option) (*Issuer, error) {
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyBytes)
	}
	i := &Issuer{store: store, key: append([]byte(nil), key...), ttl: DefaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// NewPlayerID allocates a player identifier.
func NewPlayerID() (string, error) {
	return id.NewPrefixedID("player", playerIDLength)
}

// Issue creates a credential binding playerID to gameID.
func (i *Issuer) Issue(ctx context.Context, playerID, gameID string) (string, error) {
	sessionID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate session id: %w", err)
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		GameID: gameID,
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}

	if err := i.store.PutRecord(ctx, storage.SessionKey(sessionID), storage.Fields{
		fieldPlayerID: playerID,
		fieldGameID:   gameID,
		fieldIssuedAt: now.Format(time.RFC3339Nano),
	}, i.ttl); err != nil {
		return "", apperrors.Unavailable("store session", err)
	}
	if err := i.store.PutRecord(ctx, storage.PlayerGameKey(playerID), storage.Fields{
		fieldGameID: gameID,
	}, i.ttl); err != nil {
		return "", apperrors.Unavailable("store current game", err)
	}
	return signed, nil
}

// Resolve verifies credential and returns the caller behind it.
func (i *Issuer) Resolve(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, invalid("credential is required")
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential rejected", err)
	}
	if parsed.Subject == "" || parsed.GameID == "" || parsed.ID == "" || parsed.ExpiresAt == nil {
		return Identity{}, invalid("credential is missing claims")
	}
	if !parsed.ExpiresAt.Time.After(i.now()) {
		return Identity{}, invalid("credential is expired")
	}

	session, err := i.store.GetRecord(ctx, storage.SessionKey(parsed.ID))
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, invalid("session revoked or expired")
	}
	if err != nil {
		return Identity{}, apperrors.Unavailable("load session", err)
	}
	if session[fieldPlayerID] != parsed.Subject || session[fieldGameID] != parsed.GameID {
		return Identity{}, invalid("session does not match credential")
	}
	if _, err := i.store.Expire(ctx, storage.SessionKey(parsed.ID), i.ttl); err != nil {
		return Identity{}, apperrors.Unavailable("refresh session", err)
	}
	return Identity{PlayerID: parsed.Subject, GameID: parsed.GameID, SessionID: parsed.ID}, nil
}

// Revoke deletes the session behind a credential id.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	if err := i.store.Delete(ctx, storage.SessionKey(sessionID)); err != nil {
		return apperrors.Unavailable("revoke session", err)
	}
	return nil
}

// CurrentGame returns the game a player last received a credential for.
func (i *Issuer) CurrentGame(ctx context.Context, playerID string) (string, bool, error) {
	record, err := i.store.GetRecord(ctx, storage.PlayerGameKey(playerID))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Unavailable("load current game", err)
	}
	return record[fieldGameID], true, nil
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeCredentialInvalid, message)
}
