// Package ledger records move submissions and turn results.
//
// Submissions live in a member map per (game, turn, attempt) so that the
// duplicate check and the write are one add-if-absent call, and the count a
// submitter sees is read back in the same atomic step. Results are written
// once per (game, turn) with create-if-absent and never change afterwards.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

// Receipt describes an accepted submission.
type Receipt struct {
	Accepted       bool
	Turn           int
	Attempt        int
	MovesSubmitted int
	MovesRequired  int
	// Game is the snapshot the submission was validated against.
	Game registry.Game
}

// Ledger tracks submissions and results.
type Ledger struct {
	store storage.Store
	games *registry.Registry
}

// New creates a ledger. Game lookups and TTLs come from games.
func New(store storage.Store, games *registry.Registry) *Ledger {
	return &Ledger{store: store, games: games}
}

// SubmitMove records playerID's moves for turn. Validation order is game
// existence, roster membership, game state, then turn number; only then is
// the submission added atomically.
func (l *Ledger) SubmitMove(ctx context.Context, gameID string, turnNumber int, playerID string, moves []turn.Move) (Receipt, error) {
	if turnNumber < 0 {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidTurn, "turn must not be negative")
	}
	g, err := l.games.Authorize(ctx, gameID, playerID)
	if err != nil {
		return Receipt{}, err
	}

	switch g.State {
	case registry.StateInProgress:
	case registry.StateProcessingTurn:
		return Receipt{}, apperrors.New(apperrors.CodeTurnProcessing, "turn is being processed")
	default:
		return Receipt{}, apperrors.WithMetadata(apperrors.CodeGameNotInProgress, "game is not in progress",
			map[string]string{"State": string(g.State)})
	}

	if turnNumber != g.CurrentTurn {
		return Receipt{}, apperrors.WithMetadata(apperrors.CodeTurnMismatch,
			fmt.Sprintf("expected turn %d, got turn %d", g.CurrentTurn, turnNumber),
			map[string]string{
				"Expected": strconv.Itoa(g.CurrentTurn),
				"Got":      strconv.Itoa(turnNumber),
			})
	}

	if moves == nil {
		moves = []turn.Move{}
	}
	payload, err := json.Marshal(turn.Submission{
		Turn:        turnNumber,
		Moves:       moves,
		SubmittedAt: l.games.Now(),
	})
	if err != nil {
		return Receipt{}, apperrors.Wrap(apperrors.CodeInvalidMoves, "encode submission", err)
	}

	added, count, err := l.store.AddMember(ctx, storage.TurnMovesKey(gameID, turnNumber, g.Attempt), playerID, payload, l.games.ActiveTTL())
	if err != nil {
		return Receipt{}, apperrors.Unavailable("store submission", err)
	}
	if !added {
		return Receipt{}, apperrors.New(apperrors.CodeDuplicateSubmission, "moves already submitted for this turn")
	}
	return Receipt{
		Accepted:       true,
		Turn:           turnNumber,
		Attempt:        g.Attempt,
		MovesSubmitted: count,
		MovesRequired:  g.MovesRequired(),
		Game:           g,
	}, nil
}

// CountSubmissions returns how many distinct players submitted for one attempt of a turn.
func (l *Ledger) CountSubmissions(ctx context.Context, gameID string, turnNumber, attempt int) (int, error) {
	n, err := l.store.Cardinality(ctx, storage.TurnMovesKey(gameID, turnNumber, attempt))
	if err != nil {
		return 0, apperrors.Unavailable("count submissions", err)
	}
	return n, nil
}

// FetchSubmissions returns every submission of one attempt of a turn, by player.
func (l *Ledger) FetchSubmissions(ctx context.Context, gameID string, turnNumber, attempt int) (map[string]turn.Submission, error) {
	members, err := l.store.Members(ctx, storage.TurnMovesKey(gameID, turnNumber, attempt))
	if err != nil {
		return nil, apperrors.Unavailable("fetch submissions", err)
	}
	out := make(map[string]turn.Submission, len(members))
	for playerID, payload := range members {
		var sub turn.Submission
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, fmt.Errorf("decode submission of %s: %w", playerID, err)
		}
		out[playerID] = sub
	}
	return out, nil
}

// WriteResult stores the result of a turn unless one already exists.
func (l *Ledger) WriteResult(ctx context.Context, gameID string, turnNumber int, result turn.Result) (bool, error) {
	if result.Updates == nil {
		result.Updates = []turn.Record{}
	}
	if result.Events == nil {
		result.Events = []turn.Record{}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	created, err := l.store.CreateBlob(ctx, storage.TurnResultKey(gameID, turnNumber), data, l.games.ActiveTTL())
	if err != nil {
		return false, apperrors.Unavailable("store result", err)
	}
	return created, nil
}

// ReadResult returns the stored result of a turn, if any.
func (l *Ledger) ReadResult(ctx context.Context, gameID string, turnNumber int) (turn.Result, bool, error) {
	data, err := l.store.GetBlob(ctx, storage.TurnResultKey(gameID, turnNumber))
	if errors.Is(err, storage.ErrNotFound) {
		return turn.Result{}, false, nil
	}
	if err != nil {
		return turn.Result{}, false, apperrors.Unavailable("read result", err)
	}
	var result turn.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return turn.Result{}, false, fmt.Errorf("decode result: %w", err)
	}
	return result, true, nil
}

// SubmittedAt is a convenience for logging how long a turn waited.
func SubmittedAt(subs map[string]turn.Submission) (first, last time.Time) {
	for _, sub := range subs {
		if first.IsZero() || sub.SubmittedAt.Before(first) {
			first = sub.SubmittedAt
		}
		if sub.SubmittedAt.After(last) {
			last = sub.SubmittedAt
		}
	}
	return first, last
}
