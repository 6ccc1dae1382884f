package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

// WinCondition decides whether the game ends after a resolved turn.
type WinCondition interface {
	Evaluate(ctx context.Context, game GameContext, result turn.Result) (bool, error)
}

// Rule names accepted by NewWinCondition.
const (
	RuleNever     = "never"
	RuleTurnLimit = "turn_limit"
	RuleLua       = "lua"
)

// Never keeps games running until they are abandoned.
type Never struct{}

// Evaluate implements WinCondition.
func (Never) Evaluate(context.Context, GameContext, turn.Result) (bool, error) {
	return false, nil
}

// TurnLimit ends the game once Turns turns have been resolved.
type TurnLimit struct {
	Turns int
}

// Evaluate implements WinCondition. game.Turn is the turn just resolved.
func (w TurnLimit) Evaluate(_ context.Context, game GameContext, _ turn.Result) (bool, error) {
	return game.Turn+1 >= w.Turns, nil
}

// NewWinCondition builds the rule named by rule.
func NewWinCondition(rule string, turnLimit int, script string) (WinCondition, error) {
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case "", RuleNever:
		return Never{}, nil
	case RuleTurnLimit:
		if turnLimit <= 0 {
			return nil, fmt.Errorf("turn limit must be positive, got %d", turnLimit)
		}
		return TurnLimit{Turns: turnLimit}, nil
	case RuleLua:
		return LoadLuaRule(script)
	default:
		return nil, fmt.Errorf("unknown win rule %q", rule)
	}
}
