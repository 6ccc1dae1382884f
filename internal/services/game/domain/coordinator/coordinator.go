package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/telemetry"
	"github.com/louisbranch/robotbattle/internal/platform/timeouts"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/ledger"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/resolve"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

// DefaultCompletedTTL is how long a finished game stays readable.
const DefaultCompletedTTL = time.Hour

const tracerName = "github.com/louisbranch/robotbattle/internal/services/game/domain/coordinator"

// Failure stages reported to metrics and logs.
const (
	stageFetch    = "fetch"
	stageResolve  = "resolve"
	stageWinRule  = "win_rule"
	stageWrite    = "write_result"
	stageDispatch = "dispatch"
)

// SubmitResult is what a submitter learns about the turn.
type SubmitResult struct {
	Accepted       bool
	Turn           int
	MovesSubmitted int
	MovesRequired  int
	// Processing is true once every move is in and the turn left the
	// submission phase, whichever submitter triggered it.
	Processing bool
}

// Results is a poll answer for one turn.
type Results struct {
	Ready    bool
	Turn     int
	State    registry.State
	Updates  []turn.Record
	Events   []turn.Record
	NextTurn int
}

// Coordinator ties the registry, the ledger and the resolver together.
type Coordinator struct {
	games        *registry.Registry
	ledger       *ledger.Ledger
	resolver     resolve.Resolver
	win          resolve.WinCondition
	dispatcher   *Dispatcher
	completedTTL time.Duration
	tracer       trace.Tracer
	metrics      *telemetry.TurnMetrics
	now          func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWinCondition sets the rule that ends a game after a resolved turn.
func WithWinCondition(w resolve.WinCondition) Option {
	return func(c *Coordinator) {
		if w != nil {
			c.win = w
		}
	}
}

// WithDispatcher sets the pool that runs resolutions.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithCompletedTTL sets how long finished games are kept.
func WithCompletedTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.completedTTL = ttl
		}
	}
}

// WithMetrics sets the turn metric instruments.
func WithMetrics(m *telemetry.TurnMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// New creates a coordinator.
func New(games *registry.Registry, l *ledger.Ledger, resolver resolve.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		games:        games,
		ledger:       l,
		resolver:     resolver,
		win:          resolve.Never{},
		completedTTL: DefaultCompletedTTL,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher(DefaultWorkers, DefaultQueue)
	}
	return c
}

// Close drains pending resolutions.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.dispatcher.Close(ctx)
}

// SubmitMove records a player's moves and starts resolution when the turn is
// complete. The submission stands even if starting resolution fails; the
// sweeper picks such turns up.
func (c *Coordinator) SubmitMove(ctx context.Context, gameID string, turnNumber int, playerID string, moves []turn.Move) (SubmitResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.SubmitMove", trace.WithAttributes(
		attribute.String("game.id", gameID),
		attribute.Int("game.turn", turnNumber),
	))
	defer span.End()

	receipt, err := c.ledger.SubmitMove(ctx, gameID, turnNumber, playerID, moves)
	if err != nil {
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return SubmitResult{}, err
	}
	out := SubmitResult{
		Accepted:       true,
		Turn:           receipt.Turn,
		MovesSubmitted: receipt.MovesSubmitted,
		MovesRequired:  receipt.MovesRequired,
	}
	span.SetAttributes(attribute.Int("turn.submitted", out.MovesSubmitted), attribute.Int("turn.required", out.MovesRequired))
	if receipt.MovesSubmitted < receipt.MovesRequired {
		return out, nil
	}
	out.Processing = true

	if _, err := c.startProcessing(ctx, receipt.Game); err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Str("gameId", gameID).Int("turn", turnNumber).Msg("could not start turn processing")
	}
	return out, nil
}

// startProcessing moves g to processing_turn and dispatches its resolution if
// this caller won the swap.
func (c *Coordinator) startProcessing(ctx context.Context, g registry.Game) (bool, error) {
	processing, won, err := c.games.Transition(ctx, g, registry.StateProcessingTurn, nil)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	log.Info().Str("gameId", g.ID).Int("turn", g.CurrentTurn).Int("attempt", g.Attempt).Msg("all moves in, resolving turn")
	dispatchedAt := c.now()
	if !c.dispatcher.Dispatch(func(jobCtx context.Context) {
		c.resolveTurn(jobCtx, processing, dispatchedAt)
	}) {
		c.fail(ctx, processing, stageDispatch, errors.New("dispatcher closed"), dispatchedAt)
		return true, errors.New("dispatcher closed")
	}
	return true, nil
}

// GetStatus reports the current turn's progress to a rostered player.
func (c *Coordinator) GetStatus(ctx context.Context, gameID, playerID string) (registry.Status, error) {
	return c.games.GetStatus(ctx, gameID, playerID, c.ledger)
}

// GetResults returns the result of turn once it exists. It never changes state.
func (c *Coordinator) GetResults(ctx context.Context, gameID string, turnNumber int, playerID string) (Results, error) {
	if turnNumber < 0 {
		return Results{}, apperrors.New(apperrors.CodeInvalidTurn, "turn must not be negative")
	}
	g, err := c.games.Authorize(ctx, gameID, playerID)
	if err != nil {
		return Results{}, err
	}
	out := Results{Turn: turnNumber, State: g.State}
	result, ok, err := c.ledger.ReadResult(ctx, gameID, turnNumber)
	if err != nil {
		return Results{}, err
	}
	if !ok {
		return out, nil
	}
	out.Ready = true
	out.Updates = result.Updates
	out.Events = result.Events
	out.NextTurn = turnNumber + 1
	return out, nil
}

// resolveTurn runs one resolution attempt of g, which must be in
// processing_turn.
func (c *Coordinator) resolveTurn(ctx context.Context, g registry.Game, dispatchedAt time.Time) {
	ctx, span := c.tracer.Start(ctx, "coordinator.resolveTurn", trace.WithAttributes(
		attribute.String("game.id", g.ID),
		attribute.Int("game.turn", g.CurrentTurn),
		attribute.Int("game.attempt", g.Attempt),
	))
	defer span.End()

	won, stage, err := c.computeResult(ctx, g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		c.fail(ctx, g, stage, err, dispatchedAt)
		return
	}
	advanced, err := c.advance(ctx, g, won)
	if err != nil {
		// The result is stored; the sweeper completes the advance.
		span.RecordError(err)
		log.Error().Err(err).Str("gameId", g.ID).Int("turn", g.CurrentTurn).Msg("advance after resolution failed")
		return
	}
	if !advanced {
		return
	}
	c.metrics.Resolved(ctx, won, c.now().Sub(dispatchedAt))
}

// computeResult resolves the submissions of g's attempt and stores the result.
// The first stored result of a turn is authoritative.
func (c *Coordinator) computeResult(ctx context.Context, g registry.Game) (bool, string, error) {
	subs, err := c.ledger.FetchSubmissions(ctx, g.ID, g.CurrentTurn, g.Attempt)
	if err != nil {
		return false, stageFetch, err
	}
	game, err := c.gameContext(ctx, g)
	if err != nil {
		return false, stageFetch, err
	}
	first, last := ledger.SubmittedAt(subs)
	log.Debug().Str("gameId", g.ID).Int("turn", g.CurrentTurn).Int("submissions", len(subs)).
		Dur("submissionSpread", last.Sub(first)).Msg("resolving submissions")

	result, err := resolve.Safely(ctx, c.resolver, subs, game)
	if err != nil {
		return false, stageResolve, err
	}
	won, err := resolve.Evaluate(ctx, c.win, game, result)
	if err != nil {
		return false, stageWinRule, err
	}
	created, err := c.ledger.WriteResult(ctx, g.ID, g.CurrentTurn, result)
	if err != nil {
		return false, stageWrite, err
	}
	if created {
		return won, "", nil
	}

	// An earlier attempt stored its result before failing to advance.
	return c.verdict(ctx, g, game)
}

// verdict evaluates the win rule against the stored result of g's turn.
func (c *Coordinator) verdict(ctx context.Context, g registry.Game, game resolve.GameContext) (bool, string, error) {
	stored, ok, err := c.ledger.ReadResult(ctx, g.ID, g.CurrentTurn)
	if err != nil {
		return false, stageWrite, err
	}
	if !ok {
		return false, stageWrite, fmt.Errorf("result of turn %d vanished", g.CurrentTurn)
	}
	won, err := resolve.Evaluate(ctx, c.win, game, stored)
	if err != nil {
		return false, stageWinRule, err
	}
	return won, "", nil
}

func (c *Coordinator) gameContext(ctx context.Context, g registry.Game) (resolve.GameContext, error) {
	snapshot, err := c.games.Map(ctx, g.ID)
	if err != nil && !apperrors.HasCode(err, apperrors.CodeGameNotFound) {
		return resolve.GameContext{}, err
	}
	return resolve.GameContext{
		GameID:   g.ID,
		Turn:     g.CurrentTurn,
		Roster:   g.Roster,
		Capacity: g.Capacity,
		MapSeed:  g.MapSeed,
		Map:      snapshot,
	}, nil
}

// advance completes g or opens its next turn.
func (c *Coordinator) advance(ctx context.Context, g registry.Game, won bool) (bool, error) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if won {
		_, swapped, err := c.games.Transition(ctx, g, registry.StateComplete, nil)
		if err != nil {
			return false, err
		}
		if !swapped {
			log.Debug().Str("gameId", g.ID).Msg("game already advanced")
			return false, nil
		}
		log.Info().Str("gameId", g.ID).Int("turn", g.CurrentTurn).Msg("game complete")
		return true, c.games.Retire(ctx, g.ID, c.completedTTL)
	}

	_, swapped, err := c.games.Transition(ctx, g, registry.StateInProgress, func(next *registry.Game) {
		next.CurrentTurn++
		next.Attempt = 0
	})
	if err != nil {
		return false, err
	}
	if !swapped {
		log.Debug().Str("gameId", g.ID).Msg("game already advanced")
		return false, nil
	}
	log.Info().Str("gameId", g.ID).Int("turn", g.CurrentTurn+1).Msg("turn resolved")
	return true, nil
}

// fail reverts g to in_progress at the same turn with a fresh attempt.
func (c *Coordinator) fail(ctx context.Context, g registry.Game, stage string, cause error, dispatchedAt time.Time) {
	c.metrics.Failed(ctx, stage, c.now().Sub(dispatchedAt))
	event := log.Error().Err(cause).Str("gameId", g.ID).Int("turn", g.CurrentTurn).Int("attempt", g.Attempt).Str("stage", stage)
	var panicErr *resolve.PanicError
	if errors.As(cause, &panicErr) {
		event = event.Bytes("stack", panicErr.Stack)
	}
	event.Msg("turn resolution failed")

	if err := c.revert(ctx, g); err != nil {
		log.Error().Err(err).Str("gameId", g.ID).Msg("revert after failed resolution")
	}
}

func (c *Coordinator) revert(ctx context.Context, g registry.Game) error {
	ctx, cancel := detached(ctx)
	defer cancel()
	_, _, err := c.games.Transition(ctx, g, registry.StateInProgress, func(next *registry.Game) {
		next.Attempt++
	})
	return err
}

// detached keeps ctx's values but not its deadline, so state repair still
// runs after a resolution timed out.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeouts.StoreCall)
}
