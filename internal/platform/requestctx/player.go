// Package requestctx carries authenticated request identity through context.
package requestctx

import "context"

type playerIDContextKey struct{}

type gameIDContextKey struct{}

// WithPlayer stores the authenticated player and the game bound to the
// player's credential.
func WithPlayer(ctx context.Context, playerID, gameID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, playerIDContextKey{}, playerID)
	return context.WithValue(ctx, gameIDContextKey{}, gameID)
}

// PlayerIDFromContext returns the authenticated player identifier.
func PlayerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(playerIDContextKey{}).(string)
	return value
}

// GameIDFromContext returns the game bound to the caller's credential.
func GameIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(gameIDContextKey{}).(string)
	return value
}
