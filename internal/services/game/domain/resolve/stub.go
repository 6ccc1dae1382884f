package resolve

import (
	"context"
	"encoding/json"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

// StubResolver applies moves without combat: units move to their target,
// attacks are only announced and defending units change status.
type StubResolver struct{}

var _ Resolver = StubResolver{}

// Resolve implements Resolver.
func (StubResolver) Resolve(ctx context.Context, moves map[string]turn.Submission, _ GameContext) (turn.Result, error) {
	result := turn.Result{Updates: []turn.Record{}, Events: []turn.Record{}}
	for _, playerID := range sortedPlayers(moves) {
		for _, m := range moves[playerID].Moves {
			switch m.Action {
			case turn.ActionMove:
				result.Updates = append(result.Updates, turn.Record{
					"type":         "unit_moved",
					"player_id":    playerID,
					"unit_id":      m.UnitID,
					"new_position": target(m),
				})
				result.Events = append(result.Events, turn.Record{
					"type":      "move_completed",
					"player_id": playerID,
					"unit_id":   m.UnitID,
					"message":   "Unit " + m.UnitID + " moved",
				})
			case turn.ActionAttack:
				result.Events = append(result.Events, turn.Record{
					"type":      "attack_attempted",
					"player_id": playerID,
					"unit_id":   m.UnitID,
					"target":    target(m),
					"message":   "Unit " + m.UnitID + " attacked (no damage calculated)",
				})
			case turn.ActionDefend:
				result.Updates = append(result.Updates, turn.Record{
					"type":      "unit_status_changed",
					"player_id": playerID,
					"unit_id":   m.UnitID,
					"status":    "defending",
				})
				result.Events = append(result.Events, turn.Record{
					"type":      "defend_activated",
					"player_id": playerID,
					"unit_id":   m.UnitID,
					"message":   "Unit " + m.UnitID + " is defending",
				})
			}
		}
	}
	return result, nil
}

// target decodes the raw target so results carry plain JSON values.
func target(m turn.Move) any {
	if len(m.Target) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(m.Target, &value); err != nil {
		return string(m.Target)
	}
	return value
}
