package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

func raw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func sampleMoves() map[string]turn.Submission {
	return map[string]turn.Submission{
		"player_b": {Turn: 0, Moves: []turn.Move{
			{UnitID: "b_unit_0", Action: turn.ActionMove, Target: raw([]int{3, 4})},
			{UnitID: "b_unit_1", Action: turn.ActionDefend},
		}},
		"player_a": {Turn: 0, Moves: []turn.Move{
			{UnitID: "a_unit_0", Action: turn.ActionAttack, Target: raw("b_unit_0")},
			{UnitID: "a_unit_1", Action: turn.ActionMove, Target: raw([]int{1, 1})},
			{UnitID: "a_unit_2", Action: "dance"},
		}},
	}
}

func TestStubResolverOutput(t *testing.T) {
	result, err := StubResolver{}.Resolve(context.Background(), sampleMoves(), GameContext{GameID: "g"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	wantUpdates := []turn.Record{
		{"type": "unit_moved", "player_id": "player_a", "unit_id": "a_unit_1", "new_position": []any{float64(1), float64(1)}},
		{"type": "unit_moved", "player_id": "player_b", "unit_id": "b_unit_0", "new_position": []any{float64(3), float64(4)}},
		{"type": "unit_status_changed", "player_id": "player_b", "unit_id": "b_unit_1", "status": "defending"},
	}
	if !reflect.DeepEqual(result.Updates, wantUpdates) {
		t.Fatalf("updates = %#v\nwant %#v", result.Updates, wantUpdates)
	}

	var eventTypes []string
	for _, event := range result.Events {
		eventTypes = append(eventTypes, event["type"].(string))
	}
	wantEvents := []string{"attack_attempted", "move_completed", "move_completed", "defend_activated"}
	if !reflect.DeepEqual(eventTypes, wantEvents) {
		t.Fatalf("event types = %v, want %v", eventTypes, wantEvents)
	}
	if result.Events[0]["target"] != "b_unit_0" {
		t.Fatalf("attack target = %v", result.Events[0]["target"])
	}
}

func TestStubResolverEmptyTurn(t *testing.T) {
	result, err := StubResolver{}.Resolve(context.Background(), nil, GameContext{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Updates == nil || result.Events == nil || len(result.Updates)+len(result.Events) != 0 {
		t.Fatalf("result = %#v, want empty non-nil lists", result)
	}
}

func TestStubResolverIgnoresArrivalOrder(t *testing.T) {
	type arrival struct {
		player string
		sub    turn.Submission
	}
	var arrivals []arrival
	for player, sub := range sampleMoves() {
		arrivals = append(arrivals, arrival{player, sub})
	}
	for i := 0; i < 6; i++ {
		arrivals = append(arrivals, arrival{
			player: "player_" + string(rune('c'+i)),
			sub: turn.Submission{Moves: []turn.Move{
				{UnitID: "u" + string(rune('c'+i)), Action: turn.ActionMove, Target: raw([]int{i, i})},
			}},
		})
	}

	build := func(order []arrival) map[string]turn.Submission {
		moves := make(map[string]turn.Submission, len(order))
		for _, a := range order {
			moves[a.player] = a.sub
		}
		return moves
	}
	baseline, err := StubResolver{}.Resolve(context.Background(), build(arrivals), GameContext{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 25; round++ {
		shuffled := append([]arrival(nil), arrivals...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := StubResolver{}.Resolve(context.Background(), build(shuffled), GameContext{})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !reflect.DeepEqual(got, baseline) {
			t.Fatalf("round %d: result depends on arrival order", round)
		}
	}
}

func TestSafelyRecoversPanics(t *testing.T) {
	panicky := ResolverFunc(func(context.Context, map[string]turn.Submission, GameContext) (turn.Result, error) {
		panic("boom")
	})
	_, err := Safely(context.Background(), panicky, nil, GameContext{})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) || panicErr.Value != "boom" || len(panicErr.Stack) == 0 {
		t.Fatalf("err = %v, want PanicError", err)
	}
}

func TestSafelyPassesContextCopy(t *testing.T) {
	game := GameContext{Roster: []string{"a", "b"}}
	mutating := ResolverFunc(func(_ context.Context, _ map[string]turn.Submission, g GameContext) (turn.Result, error) {
		g.Roster[0] = "mutated"
		return turn.Result{}, nil
	})
	if _, err := Safely(context.Background(), mutating, nil, game); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if game.Roster[0] != "a" {
		t.Fatalf("roster mutated: %v", game.Roster)
	}
}
