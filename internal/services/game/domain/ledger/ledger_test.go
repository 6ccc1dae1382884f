package ledger

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/memory"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/storagetest"
)

type fixture struct {
	games  *registry.Registry
	ledger *Ledger
	game   registry.Game
}

func newFixture(t *testing.T, players ...string) fixture {
	t.Helper()
	clock := storagetest.NewClock(storagetest.Epoch)
	store := memory.New(memory.WithClock(clock.Now))
	games := registry.New(store, registry.WithClock(clock.Now))
	ctx := context.Background()

	g, err := games.CreateGame(ctx, len(players), 7, nil)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	for _, p := range players {
		if g, err = games.JoinGame(ctx, g.ID, p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	return fixture{games: games, ledger: New(store, games), game: g}
}

func moveTo(unit string, q, r int) turn.Move {
	target, _ := json.Marshal([]int{q, r})
	return turn.Move{UnitID: unit, Action: turn.ActionMove, Target: target}
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("error code = %v, want %v (err: %v)", got, want, err)
	}
}

func TestSubmitMoveAcceptsAndCounts(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	receipt, err := f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", []turn.Move{moveTo("a_unit_0", 1, 1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := Receipt{Accepted: true, Turn: 0, Attempt: 0, MovesSubmitted: 1, MovesRequired: 2}
	receipt.Game = registry.Game{}
	if !reflect.DeepEqual(receipt, want) {
		t.Fatalf("receipt = %+v, want %+v", receipt, want)
	}

	n, err := f.ledger.CountSubmissions(ctx, f.game.ID, 0, 0)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}

	subs, err := f.ledger.FetchSubmissions(ctx, f.game.ID, 0, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := subs["a"]
	if got.Turn != 0 || len(got.Moves) != 1 || got.Moves[0].UnitID != "a_unit_0" || !got.SubmittedAt.Equal(storagetest.Epoch) {
		t.Fatalf("submission = %+v", got)
	}
	if string(got.Moves[0].Target) != "[1,1]" {
		t.Fatalf("target = %s", got.Moves[0].Target)
	}
}

func TestSubmitMoveValidationOrder(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	_, err := f.ledger.SubmitMove(ctx, "game_missing", 0, "a", nil)
	assertCode(t, err, apperrors.CodeGameNotFound)

	// Not in roster wins over a wrong turn.
	_, err = f.ledger.SubmitMove(ctx, f.game.ID, 9, "stranger", nil)
	assertCode(t, err, apperrors.CodePlayerNotInGame)

	_, err = f.ledger.SubmitMove(ctx, f.game.ID, -1, "a", nil)
	assertCode(t, err, apperrors.CodeInvalidTurn)
}

func TestSubmitMoveTurnMismatchIsNotBuffered(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	_, err := f.ledger.SubmitMove(ctx, f.game.ID, 5, "a", []turn.Move{moveTo("u", 0, 0)})
	assertCode(t, err, apperrors.CodeTurnMismatch)
	domainErr, _ := apperrors.As(err)
	if domainErr.Metadata["Expected"] != "0" || domainErr.Metadata["Got"] != "5" {
		t.Fatalf("metadata = %v", domainErr.Metadata)
	}
	if domainErr.Message != "expected turn 0, got turn 5" {
		t.Fatalf("message = %q", domainErr.Message)
	}

	for _, turnNumber := range []int{0, 5} {
		n, _ := f.ledger.CountSubmissions(ctx, f.game.ID, turnNumber, 0)
		if n != 0 {
			t.Fatalf("turn %d count = %d, want 0", turnNumber, n)
		}
	}
}

func TestSubmitMoveRejectsOutsideInProgress(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	processing, won, err := f.games.Transition(ctx, f.game, registry.StateProcessingTurn, nil)
	if err != nil || !won {
		t.Fatalf("transition: %v, %v", won, err)
	}
	_, err = f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", nil)
	assertCode(t, err, apperrors.CodeTurnProcessing)

	if _, _, err := f.games.Transition(ctx, processing, registry.StateComplete, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", nil)
	assertCode(t, err, apperrors.CodeGameNotInProgress)
}

func TestSubmitMoveWhileWaitingForPlayers(t *testing.T) {
	clock := storagetest.NewClock(storagetest.Epoch)
	store := memory.New(memory.WithClock(clock.Now))
	games := registry.New(store, registry.WithClock(clock.Now))
	ctx := context.Background()
	g, _ := games.CreateGame(ctx, 3, 1, nil)
	_, _ = games.JoinGame(ctx, g.ID, "a")

	_, err := New(store, games).SubmitMove(ctx, g.ID, 0, "a", nil)
	assertCode(t, err, apperrors.CodeGameNotInProgress)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()

	const attempts = 20
	var (
		wg         sync.WaitGroup
		start      = make(chan struct{})
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", []turn.Move{moveTo("u", 1, 2)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apperrors.HasCode(err, apperrors.CodeDuplicateSubmission):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted != 1 || duplicates != attempts-1 {
		t.Fatalf("accepted = %d, duplicates = %d", accepted, duplicates)
	}
	if n, _ := f.ledger.CountSubmissions(ctx, f.game.ID, 0, 0); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestSubmissionsAreKeyedByAttempt(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	if _, err := f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	processing, _, _ := f.games.Transition(ctx, f.game, registry.StateProcessingTurn, nil)
	if _, _, err := f.games.Transition(ctx, processing, registry.StateInProgress, func(next *registry.Game) {
		next.Attempt++
	}); err != nil {
		t.Fatalf("revert: %v", err)
	}

	receipt, err := f.ledger.SubmitMove(ctx, f.game.ID, 0, "a", nil)
	if err != nil {
		t.Fatalf("resubmit after failed attempt: %v", err)
	}
	if receipt.Attempt != 1 || receipt.MovesSubmitted != 1 {
		t.Fatalf("receipt = %+v", receipt)
	}
	if n, _ := f.ledger.CountSubmissions(ctx, f.game.ID, 0, 0); n != 1 {
		t.Fatalf("first attempt submissions = %d, want retained 1", n)
	}
}

func TestResultIsWrittenOnce(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	if _, ok, err := f.ledger.ReadResult(ctx, f.game.ID, 0); err != nil || ok {
		t.Fatalf("read before write = %v, %v", ok, err)
	}

	first := turn.Result{Updates: []turn.Record{{"type": "unit_moved", "unit_id": "u1"}}}
	created, err := f.ledger.WriteResult(ctx, f.game.ID, 0, first)
	if err != nil || !created {
		t.Fatalf("first write = %v, %v", created, err)
	}
	created, err = f.ledger.WriteResult(ctx, f.game.ID, 0, turn.Result{Events: []turn.Record{{"type": "other"}}})
	if err != nil || created {
		t.Fatalf("second write = %v, %v; want false, nil", created, err)
	}

	for i := 0; i < 3; i++ {
		got, ok, err := f.ledger.ReadResult(ctx, f.game.ID, 0)
		if err != nil || !ok {
			t.Fatalf("read = %v, %v", ok, err)
		}
		if len(got.Updates) != 1 || got.Updates[0]["unit_id"] != "u1" || len(got.Events) != 0 {
			t.Fatalf("result = %+v", got)
		}
	}
}

func TestSubmittedAt(t *testing.T) {
	early := storagetest.Epoch
	late := early.Add(time.Minute)
	first, last := SubmittedAt(map[string]turn.Submission{
		"a": {SubmittedAt: late},
		"b": {SubmittedAt: early},
	})
	if !first.Equal(early) || !last.Equal(late) {
		t.Fatalf("first, last = %v, %v", first, last)
	}
}
