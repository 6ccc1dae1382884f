// Package resolve turns a completed turn's submissions into a result and
// decides whether the game is won.
//
// Resolvers are pure: the same submissions produce the same result no matter
// the order they arrived in, and the game context is never modified. Rules
// about combat, movement and victory are policy and plug in here.
package resolve

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

// GameContext is the read-only view of a game handed to resolvers.
type GameContext struct {
	GameID   string
	Turn     int
	Roster   []string
	Capacity int
	MapSeed  int64
	Map      []byte
}

// Clone returns a copy that shares no memory with c.
func (c GameContext) Clone() GameContext {
	c.Roster = slices.Clone(c.Roster)
	c.Map = slices.Clone(c.Map)
	return c
}

// Resolver computes the result of one turn.
type Resolver interface {
	Resolve(ctx context.Context, moves map[string]turn.Submission, game GameContext) (turn.Result, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, moves map[string]turn.Submission, game GameContext) (turn.Result, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, moves map[string]turn.Submission, game GameContext) (turn.Result, error) {
	return f(ctx, moves, game)
}

// PanicError reports a resolver or rule that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("resolver panic: %v", e.Value)
}

// Safely runs r, converting a panic into a *PanicError.
func Safely(ctx context.Context, r Resolver, moves map[string]turn.Submission, game GameContext) (result turn.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = turn.Result{}
			err = &PanicError{Value: recovered, Stack: debug.Stack()}
		}
	}()
	return r.Resolve(ctx, moves, game.Clone())
}

// Evaluate runs w, converting a panic into a *PanicError.
func Evaluate(ctx context.Context, w WinCondition, game GameContext, result turn.Result) (won bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			won = false
			err = &PanicError{Value: recovered, Stack: debug.Stack()}
		}
	}()
	return w.Evaluate(ctx, game.Clone(), result)
}

// sortedPlayers fixes the processing order independently of arrival order.
func sortedPlayers(moves map[string]turn.Submission) []string {
	players := make([]string, 0, len(moves))
	for playerID := range moves {
		players = append(players, playerID)
	}
	slices.Sort(players)
	return players
}
