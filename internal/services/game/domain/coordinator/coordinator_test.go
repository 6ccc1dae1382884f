package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/ledger"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/resolve"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/memory"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/storagetest"
)

type harness struct {
	store  *memory.Store
	clock  *storagetest.Clock
	games  *registry.Registry
	ledger *ledger.Ledger
	coord  *Coordinator
}

func newHarness(t *testing.T, resolver resolve.Resolver, opts ...Option) *harness {
	t.Helper()
	clock := storagetest.NewClock(storagetest.Epoch)
	store := memory.New(memory.WithClock(clock.Now))
	games := registry.New(store, registry.WithClock(clock.Now), registry.WithActiveTTL(time.Hour))
	l := ledger.New(store, games)
	opts = append([]Option{WithDispatcher(NewDispatcher(2, 4))}, opts...)
	coord := New(games, l, resolver, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Close(ctx)
	})
	return &harness{store: store, clock: clock, games: games, ledger: l, coord: coord}
}

// startGame creates a game sized for players and joins them all.
func (h *harness) startGame(t *testing.T, players ...string) registry.Game {
	t.Helper()
	ctx := context.Background()
	g, err := h.games.CreateGame(ctx, len(players), 7, []byte(`{}`))
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	for _, p := range players {
		if g, err = h.games.JoinGame(ctx, g.ID, p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	if g.State != registry.StateInProgress {
		t.Fatalf("state = %s, want in_progress", g.State)
	}
	return g
}

// waitFor polls the game record until cond holds.
func (h *harness) waitFor(t *testing.T, gameID string, cond func(registry.Game) bool) registry.Game {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		g, err := h.games.Get(context.Background(), gameID)
		if err == nil && cond(g) {
			return g
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last game %+v (err %v)", g, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func atTurn(n int) func(registry.Game) bool {
	return func(g registry.Game) bool {
		return g.State == registry.StateInProgress && g.CurrentTurn == n
	}
}

func moveUnits(unitIDs ...string) []turn.Move {
	moves := make([]turn.Move, 0, len(unitIDs))
	for i, unitID := range unitIDs {
		moves = append(moves, turn.Move{
			UnitID: unitID,
			Action: turn.ActionMove,
			Target: json.RawMessage(fmt.Sprintf("[%d,%d]", i, i+1)),
		})
	}
	return moves
}

type countingResolver struct {
	calls atomic.Int32
}

func (r *countingResolver) Resolve(ctx context.Context, moves map[string]turn.Submission, game resolve.GameContext) (turn.Result, error) {
	r.calls.Add(1)
	return resolve.StubResolver{}.Resolve(ctx, moves, game)
}

func TestEndToEndTwoPlayers(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()

	g, err := h.games.CreateGame(ctx, 2, 7, []byte(`{}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.games.JoinGame(ctx, g.ID, "player_a"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	joined, err := h.games.JoinGame(ctx, g.ID, "player_b")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if joined.State != registry.StateInProgress {
		t.Fatalf("state after second join = %s", joined.State)
	}

	first, err := h.coord.SubmitMove(ctx, g.ID, 0, "player_a", moveUnits("a_unit_0", "a_unit_1"))
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	if !first.Accepted || first.MovesSubmitted != 1 || first.MovesRequired != 2 || first.Processing {
		t.Fatalf("first submit = %+v", first)
	}
	status, err := h.coord.GetStatus(ctx, g.ID, "player_b")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.MovesSubmitted != 1 || status.AllMovesIn {
		t.Fatalf("status = %+v", status)
	}

	second, err := h.coord.SubmitMove(ctx, g.ID, 0, "player_b", moveUnits("b_unit_0"))
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if !second.Processing || second.MovesSubmitted != 2 {
		t.Fatalf("second submit = %+v", second)
	}

	var results Results
	deadline := time.Now().Add(5 * time.Second)
	for {
		results, err = h.coord.GetResults(ctx, g.ID, 0, "player_a")
		if err != nil {
			t.Fatalf("results: %v", err)
		}
		if results.Ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("results never became ready")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if results.NextTurn != 1 {
		t.Fatalf("next turn = %d", results.NextTurn)
	}
	moved := 0
	for _, update := range results.Updates {
		if update["type"] == "unit_moved" {
			moved++
		}
	}
	if moved != 3 {
		t.Fatalf("unit_moved updates = %d, want 3: %v", moved, results.Updates)
	}

	after := h.waitFor(t, g.ID, atTurn(1))
	if after.Attempt != 0 {
		t.Fatalf("attempt = %d", after.Attempt)
	}
	// The next turn accepts submissions.
	if _, err := h.coord.SubmitMove(ctx, g.ID, 1, "player_a", nil); err != nil {
		t.Fatalf("submit turn 1: %v", err)
	}
}

func TestTurnRecordsLiveAsLongAsTheGame(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()
	g := h.startGame(t, "player_a", "player_b")

	// Each turn takes 40m against a 1h active TTL, so turn 0 records are
	// older than the TTL by the end and survive only through refreshes.
	for n := 0; n < 3; n++ {
		for _, p := range []string{"player_a", "player_b"} {
			if _, err := h.coord.SubmitMove(ctx, g.ID, n, p, moveUnits(p+"_u")); err != nil {
				t.Fatalf("turn %d submit %s: %v", n, p, err)
			}
		}
		h.waitFor(t, g.ID, atTurn(n+1))
		h.clock.Advance(40 * time.Minute)
	}

	live := h.waitFor(t, g.ID, atTurn(3))
	if live.State != registry.StateInProgress {
		t.Fatalf("state = %s", live.State)
	}
	results, err := h.coord.GetResults(ctx, g.ID, 0, "player_a")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !results.Ready || len(results.Updates) == 0 {
		t.Fatalf("turn 0 result expired while the game is live: %+v", results)
	}
	subs, err := h.ledger.FetchSubmissions(ctx, g.ID, 0, 0)
	if err != nil {
		t.Fatalf("fetch submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("turn 0 submissions = %d, want 2", len(subs))
	}
}

func TestAdvanceReportsLostRace(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()
	g := h.startGame(t, "a", "b")

	processing, swapped, err := h.games.Transition(ctx, g, registry.StateProcessingTurn, nil)
	if err != nil || !swapped {
		t.Fatalf("enter processing: swapped=%v err=%v", swapped, err)
	}
	advanced, err := h.coord.advance(ctx, processing, false)
	if err != nil || !advanced {
		t.Fatalf("first advance: advanced=%v err=%v", advanced, err)
	}

	// A second finisher holding the same snapshot loses the swap.
	advanced, err = h.coord.advance(ctx, processing, false)
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if advanced {
		t.Fatal("second advance reported a resolved turn")
	}
	got, err := h.games.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != registry.StateInProgress || got.CurrentTurn != 1 {
		t.Fatalf("game = %s turn %d, want in_progress turn 1", got.State, got.CurrentTurn)
	}
}

func TestRacingLastSubmissionsResolveOnce(t *testing.T) {
	for round := 0; round < 10; round++ {
		resolver := &countingResolver{}
		h := newHarness(t, resolver)
		ctx := context.Background()
		players := []string{"p1", "p2", "p3", "p4"}
		g := h.startGame(t, players...)

		for _, p := range players[:2] {
			if _, err := h.coord.SubmitMove(ctx, g.ID, 0, p, moveUnits(p+"_u")); err != nil {
				t.Fatalf("submit %s: %v", p, err)
			}
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		var processing atomic.Int32
		for _, p := range players[2:] {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				<-start
				res, err := h.coord.SubmitMove(ctx, g.ID, 0, p, moveUnits(p+"_u"))
				if err != nil {
					t.Errorf("submit %s: %v", p, err)
					return
				}
				if res.Processing {
					processing.Add(1)
				}
			}(p)
		}
		close(start)
		wg.Wait()

		if got := processing.Load(); got != 1 {
			t.Fatalf("round %d: %d submitters saw processing, want 1", round, got)
		}
		h.waitFor(t, g.ID, atTurn(1))
		if err := h.coord.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
		if got := resolver.calls.Load(); got != 1 {
			t.Fatalf("round %d: resolver ran %d times, want 1", round, got)
		}
		final, _ := h.games.Get(ctx, g.ID)
		if final.CurrentTurn != 1 {
			t.Fatalf("round %d: turn = %d, want 1", round, final.CurrentTurn)
		}
	}
}

func TestGetResultsIsSideEffectFree(t *testing.T) {
	release := make(chan struct{})
	blocking := resolve.ResolverFunc(func(ctx context.Context, moves map[string]turn.Submission, game resolve.GameContext) (turn.Result, error) {
		<-release
		return resolve.StubResolver{}.Resolve(ctx, moves, game)
	})
	h := newHarness(t, blocking)
	ctx := context.Background()
	g := h.startGame(t, "a", "b")

	if _, err := h.coord.SubmitMove(ctx, g.ID, 0, "a", moveUnits("a_u")); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	before, _ := h.games.Get(ctx, g.ID)
	for i := 0; i < 3; i++ {
		res, err := h.coord.GetResults(ctx, g.ID, 0, "a")
		if err != nil {
			t.Fatalf("results: %v", err)
		}
		if res.Ready || res.Updates != nil || res.State != registry.StateInProgress {
			t.Fatalf("premature results: %+v", res)
		}
	}
	after, _ := h.games.Get(ctx, g.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("polling changed the game: %+v -> %+v", before, after)
	}

	if _, err := h.coord.SubmitMove(ctx, g.ID, 0, "b", moveUnits("b_u")); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	processing := h.waitFor(t, g.ID, func(g registry.Game) bool { return g.State == registry.StateProcessingTurn })
	res, err := h.coord.GetResults(ctx, g.ID, 0, "b")
	if err != nil || res.Ready || res.State != registry.StateProcessingTurn {
		t.Fatalf("results while processing = %+v, %v", res, err)
	}
	_, err = h.coord.SubmitMove(ctx, g.ID, 0, "a", nil)
	if !apperrors.HasCode(err, apperrors.CodeTurnProcessing) && !apperrors.HasCode(err, apperrors.CodeDuplicateSubmission) {
		t.Fatalf("submit while processing err = %v", err)
	}
	if processing.CurrentTurn != 0 {
		t.Fatalf("turn = %d while processing", processing.CurrentTurn)
	}

	close(release)
	h.waitFor(t, g.ID, atTurn(1))

	first, err := h.coord.GetResults(ctx, g.ID, 0, "a")
	if err != nil || !first.Ready {
		t.Fatalf("first poll = %+v, %v", first, err)
	}
	for i := 0; i < 3; i++ {
		again, err := h.coord.GetResults(ctx, g.ID, 0, "b")
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("poll %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestGetResultsAuthorization(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()
	g := h.startGame(t, "a", "b")

	_, err := h.coord.GetResults(ctx, "game_missing", 0, "a")
	if !apperrors.HasCode(err, apperrors.CodeGameNotFound) {
		t.Fatalf("missing game err = %v", err)
	}
	_, err = h.coord.GetResults(ctx, g.ID, 0, "intruder")
	if !apperrors.HasCode(err, apperrors.CodePlayerNotInGame) {
		t.Fatalf("intruder err = %v", err)
	}
	_, err = h.coord.GetResults(ctx, g.ID, -1, "a")
	if !apperrors.HasCode(err, apperrors.CodeInvalidTurn) {
		t.Fatalf("negative turn err = %v", err)
	}
	_, err = h.coord.GetStatus(ctx, g.ID, "intruder")
	if !apperrors.HasCode(err, apperrors.CodePlayerNotInGame) {
		t.Fatalf("status intruder err = %v", err)
	}
}

func TestFutureTurnIsRejectedNotBuffered(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()
	g := h.startGame(t, "a", "b")

	_, err := h.coord.SubmitMove(ctx, g.ID, 5, "a", moveUnits("a_u"))
	if !apperrors.HasCode(err, apperrors.CodeTurnMismatch) {
		t.Fatalf("err = %v, want TURN_MISMATCH", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Metadata["Expected"] != "0" || appErr.Metadata["Got"] != "5" {
		t.Fatalf("metadata = %+v", appErr)
	}
	for _, turnNumber := range []int{0, 5} {
		n, err := h.ledger.CountSubmissions(ctx, g.ID, turnNumber, 0)
		if err != nil || n != 0 {
			t.Fatalf("turn %d submissions = %d, %v", turnNumber, n, err)
		}
	}
}

func TestResolverFailureRevertsAndAcceptsResubmission(t *testing.T) {
	cases := map[string]func() (turn.Result, error){
		"error": func() (turn.Result, error) { return turn.Result{}, errors.New("engine offline") },
		"panic": func() (turn.Result, error) { panic("engine exploded") },
	}
	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			resolver := resolve.ResolverFunc(func(ctx context.Context, moves map[string]turn.Submission, game resolve.GameContext) (turn.Result, error) {
				if calls.Add(1) == 1 {
					return failure()
				}
				return resolve.StubResolver{}.Resolve(ctx, moves, game)
			})
			h := newHarness(t, resolver)
			ctx := context.Background()
			g := h.startGame(t, "a", "b")

			for _, p := range []string{"a", "b"} {
				if _, err := h.coord.SubmitMove(ctx, g.ID, 0, p, moveUnits(p+"_u")); err != nil {
					t.Fatalf("submit %s: %v", p, err)
				}
			}
			reverted := h.waitFor(t, g.ID, func(g registry.Game) bool {
				return g.State == registry.StateInProgress && g.Attempt == 1
			})
			if reverted.CurrentTurn != 0 {
				t.Fatalf("turn after failure = %d", reverted.CurrentTurn)
			}
			res, err := h.coord.GetResults(ctx, g.ID, 0, "a")
			if err != nil || res.Ready {
				t.Fatalf("results after failure = %+v, %v", res, err)
			}
			kept, err := h.ledger.FetchSubmissions(ctx, g.ID, 0, 0)
			if err != nil || len(kept) != 2 {
				t.Fatalf("failed attempt submissions = %d, %v", len(kept), err)
			}

			for _, p := range []string{"a", "b"} {
				if _, err := h.coord.SubmitMove(ctx, g.ID, 0, p, moveUnits(p+"_u")); err != nil {
					t.Fatalf("resubmit %s: %v", p, err)
				}
			}
			h.waitFor(t, g.ID, atTurn(1))
			res, err = h.coord.GetResults(ctx, g.ID, 0, "b")
			if err != nil || !res.Ready || len(res.Updates) != 2 {
				t.Fatalf("results after retry = %+v, %v", res, err)
			}
		})
	}
}

func TestWinConditionCompletesAndRetiresGame(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{}, WithWinCondition(resolve.TurnLimit{Turns: 2}), WithCompletedTTL(time.Minute))
	ctx := context.Background()
	g := h.startGame(t, "a", "b")

	for turnNumber := 0; turnNumber < 2; turnNumber++ {
		for _, p := range []string{"a", "b"} {
			if _, err := h.coord.SubmitMove(ctx, g.ID, turnNumber, p, moveUnits(p+"_u")); err != nil {
				t.Fatalf("turn %d submit %s: %v", turnNumber, p, err)
			}
		}
		if turnNumber == 0 {
			h.waitFor(t, g.ID, atTurn(1))
		}
	}
	final := h.waitFor(t, g.ID, func(g registry.Game) bool { return g.State == registry.StateComplete })
	if err := h.coord.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if final.CurrentTurn != 1 {
		t.Fatalf("final turn = %d, want 1", final.CurrentTurn)
	}
	if ids, _ := h.games.ActiveIDs(ctx); len(ids) != 0 {
		t.Fatalf("active ids = %v", ids)
	}
	res, err := h.coord.GetResults(ctx, g.ID, 1, "a")
	if err != nil || !res.Ready || res.State != registry.StateComplete {
		t.Fatalf("final results = %+v, %v", res, err)
	}
	_, err = h.coord.SubmitMove(ctx, g.ID, 1, "a", nil)
	if !apperrors.HasCode(err, apperrors.CodeGameNotInProgress) {
		t.Fatalf("submit after completion err = %v", err)
	}

	h.clock.Advance(2 * time.Minute)
	if _, err := h.games.Get(ctx, g.ID); !apperrors.HasCode(err, apperrors.CodeGameNotFound) {
		t.Fatalf("retired game still readable: %v", err)
	}
}

func TestWinRuleFailureReverts(t *testing.T) {
	var calls atomic.Int32
	rule := winFunc(func() (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("rule broke")
		}
		return false, nil
	})
	h := newHarness(t, resolve.StubResolver{}, WithWinCondition(rule))
	ctx := context.Background()
	g := h.startGame(t, "a", "b")
	for _, p := range []string{"a", "b"} {
		if _, err := h.coord.SubmitMove(ctx, g.ID, 0, p, nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	h.waitFor(t, g.ID, func(g registry.Game) bool { return g.State == registry.StateInProgress && g.Attempt == 1 })
	if _, ok, _ := h.ledger.ReadResult(ctx, g.ID, 0); ok {
		t.Fatal("result visible after win rule failure")
	}
}

type winFunc func() (bool, error)

func (f winFunc) Evaluate(context.Context, resolve.GameContext, turn.Result) (bool, error) {
	return f()
}

func TestSubmitAfterCloseRevertsTurn(t *testing.T) {
	h := newHarness(t, resolve.StubResolver{})
	ctx := context.Background()
	g := h.startGame(t, "a", "b")
	if err := h.coord.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, p := range []string{"a", "b"} {
		if _, err := h.coord.SubmitMove(ctx, g.ID, 0, p, nil); err != nil {
			t.Fatalf("submit %s: %v", p, err)
		}
	}
	reverted := h.waitFor(t, g.ID, func(g registry.Game) bool { return g.Attempt == 1 })
	if reverted.State != registry.StateInProgress {
		t.Fatalf("state = %s", reverted.State)
	}
}
