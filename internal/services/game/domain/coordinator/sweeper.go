package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

// Sweeper defaults.
const (
	DefaultSweepInterval     = 30 * time.Second
	DefaultJoinTimeout       = 10 * time.Minute
	DefaultTurnTimeout       = 24 * time.Hour
	DefaultProcessingTimeout = 2 * time.Minute
)

// SweepConfig holds the lifecycle timeouts. Zero values use the defaults.
type SweepConfig struct {
	Interval          time.Duration
	JoinTimeout       time.Duration
	TurnTimeout       time.Duration
	ProcessingTimeout time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = DefaultProcessingTimeout
	}
	return c
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned    int
	Abandoned  int
	Recovered  int
	Dispatched int
	Forgotten  int
	Purged     int
}

// Sweeper applies lifecycle timeouts to active games.
type Sweeper struct {
	coordinator *Coordinator
	store       storage.Store
	cfg         SweepConfig
}

// NewSweeper creates a sweeper. store is only used for purging when it
// implements storage.Purger.
func NewSweeper(c *Coordinator, store storage.Store, cfg SweepConfig) *Sweeper {
	return &Sweeper{coordinator: c, store: store, cfg: cfg.withDefaults()}
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if report.Abandoned+report.Recovered+report.Dispatched+report.Forgotten+report.Purged > 0 {
				log.Info().Int("scanned", report.Scanned).Int("abandoned", report.Abandoned).
					Int("recovered", report.Recovered).Int("dispatched", report.Dispatched).
					Int("forgotten", report.Forgotten).Int("purged", report.Purged).Msg("sweep")
			}
		}
	}
}

// Sweep makes one pass over the active index. A failure on one game is
// logged and does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	c := s.coordinator
	ids, err := c.games.ActiveIDs(ctx)
	if err != nil {
		return report, err
	}
	now := c.games.Now()
	for _, gameID := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if err := s.sweepGame(ctx, gameID, now, &report); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Msg("sweep game")
		}
	}

	if purger, ok := s.store.(storage.Purger); ok {
		purged, err := purger.PurgeExpired(ctx, now)
		if err != nil {
			return report, apperrors.Unavailable("purge expired keys", err)
		}
		report.Purged = purged
	}
	return report, nil
}

func (s *Sweeper) sweepGame(ctx context.Context, gameID string, now time.Time, report *SweepReport) error {
	c := s.coordinator
	g, err := c.games.Get(ctx, gameID)
	if apperrors.HasCode(err, apperrors.CodeGameNotFound) {
		report.Forgotten++
		return c.games.Forget(ctx, gameID)
	}
	if err != nil {
		return err
	}
	idle := now.Sub(g.UpdatedAt)

	switch g.State {
	case registry.StateWaitingForPlayers:
		// Joins do not extend the lobby deadline.
		if now.Sub(g.CreatedAt) >= s.cfg.JoinTimeout {
			return s.abandon(ctx, g, report, "join timeout")
		}
	case registry.StateInProgress:
		submitted, err := c.ledger.CountSubmissions(ctx, g.ID, g.CurrentTurn, g.Attempt)
		if err != nil {
			return err
		}
		if required := g.MovesRequired(); required > 0 && submitted >= required {
			won, err := c.startProcessing(ctx, g)
			if won {
				report.Dispatched++
			}
			return err
		}
		if idle >= s.cfg.TurnTimeout {
			return s.abandon(ctx, g, report, "turn timeout")
		}
	case registry.StateProcessingTurn:
		if idle >= s.cfg.ProcessingTimeout {
			report.Recovered++
			return s.recoverProcessing(ctx, g)
		}
	default:
		// Terminal games left in the index by an interrupted retire.
		report.Forgotten++
		return c.games.Retire(ctx, g.ID, c.completedTTL)
	}
	return nil
}

func (s *Sweeper) abandon(ctx context.Context, g registry.Game, report *SweepReport, reason string) error {
	c := s.coordinator
	_, swapped, err := c.games.Transition(ctx, g, registry.StateAbandoned, nil)
	if err != nil || !swapped {
		return err
	}
	report.Abandoned++
	log.Info().Str("gameId", g.ID).Str("reason", reason).Str("from", string(g.State)).Msg("game abandoned")
	return c.games.Retire(ctx, g.ID, c.completedTTL)
}

// recoverProcessing finishes a turn whose result was stored, or reverts one
// whose resolution never completed.
func (s *Sweeper) recoverProcessing(ctx context.Context, g registry.Game) error {
	c := s.coordinator
	_, ok, err := c.ledger.ReadResult(ctx, g.ID, g.CurrentTurn)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("gameId", g.ID).Int("turn", g.CurrentTurn).Int("attempt", g.Attempt).Msg("turn processing timed out, reverting")
		return c.revert(ctx, g)
	}
	game, err := c.gameContext(ctx, g)
	if err != nil {
		return err
	}
	won, _, err := c.verdict(ctx, g, game)
	if err != nil {
		log.Error().Err(err).Str("gameId", g.ID).Msg("win rule failed during recovery")
		return c.revert(ctx, g)
	}
	log.Info().Str("gameId", g.ID).Int("turn", g.CurrentTurn).Msg("finishing stored turn result")
	_, err = c.advance(ctx, g, won)
	return err
}
