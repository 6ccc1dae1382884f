package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/id"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

const (
	// DefaultActiveTTL bounds how long an idle game's keys survive.
	DefaultActiveTTL = 24 * time.Hour
	// maxCASAttempts bounds optimistic retries before reporting contention.
	maxCASAttempts = 16
	// gameIDLength matches the twelve-character game suffix of issued ids.
	gameIDLength = 12
)

// SubmissionCounter reports how many players submitted for a turn attempt.
type SubmissionCounter interface {
	CountSubmissions(ctx context.Context, gameID string, turn, attempt int) (int, error)
}

// Status is the per-player view of a game's progress.
type Status struct {
	GameID         string
	State          State
	CurrentTurn    int
	MovesSubmitted int
	MovesRequired  int
	AllMovesIn     bool
}

// Registry creates, loads and transitions game records.
type Registry struct {
	store     storage.Store
	activeTTL time.Duration
	now       func() time.Time
	newID     func() (string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithActiveTTL sets the TTL applied to live game keys on every lifecycle write.
func WithActiveTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.activeTTL = ttl
		}
	}
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides game id allocation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// New creates a registry over store.
func New(store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		activeTTL: DefaultActiveTTL,
		now:       time.Now,
		newID: func() (string, error) {
			return id.NewPrefixedID("game", gameIDLength)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ActiveTTL returns the TTL applied to live game keys.
func (r *Registry) ActiveTTL() time.Duration {
	return r.activeTTL
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now().UTC()
}

// CreateGame allocates a game waiting for players at turn 0 and stores its
// map snapshot.
func (r *Registry) CreateGame(ctx context.Context, capacity int, mapSeed int64, mapSnapshot []byte) (Game, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return Game{}, apperrors.WithMetadata(apperrors.CodeInvalidCapacity, "capacity out of range", map[string]string{
			"Min": strconv.Itoa(MinCapacity),
			"Max": strconv.Itoa(MaxCapacity),
			"Got": strconv.Itoa(capacity),
		})
	}

	now := r.Now()
	g := Game{
		State:     StateWaitingForPlayers,
		Capacity:  capacity,
		Roster:    []string{},
		MapSeed:   mapSeed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Ids are random; a collision only means we draw again.
	for attempt := 0; attempt < 3; attempt++ {
		gameID, err := r.newID()
		if err != nil {
			return Game{}, fmt.Errorf("allocate game id: %w", err)
		}
		g.ID = gameID
		if err := r.store.PutBlob(ctx, storage.GameMapKey(g.ID), mapSnapshot, r.activeTTL); err != nil {
			return Game{}, apperrors.Unavailable("store map snapshot", err)
		}
		created, err := r.store.CreateRecord(ctx, storage.GameMetaKey(g.ID), encodeGame(g), r.activeTTL)
		if err != nil {
			return Game{}, apperrors.Unavailable("create game record", err)
		}
		if !created {
			continue
		}
		if _, _, err := r.store.AddMember(ctx, storage.ActiveGamesKey, g.ID, nil, 0); err != nil {
			return Game{}, apperrors.Unavailable("index active game", err)
		}
		log.Info().Str("gameId", g.ID).Int("capacity", capacity).Msg("game created")
		return g, nil
	}
	return Game{}, apperrors.New(apperrors.CodeContention, "could not allocate a unique game id")
}

// Get loads a game record.
func (r *Registry) Get(ctx context.Context, gameID string) (Game, error) {
	fields, err := r.store.GetRecord(ctx, storage.GameMetaKey(gameID))
	if errors.Is(err, storage.ErrNotFound) {
		return Game{}, apperrors.WithMetadata(apperrors.CodeGameNotFound, "game not found", map[string]string{"GameID": gameID})
	}
	if err != nil {
		return Game{}, apperrors.Unavailable("load game record", err)
	}
	g, err := decodeGame(gameID, fields)
	if err != nil {
		return Game{}, apperrors.Wrap(apperrors.CodeUnknown, "corrupt game record", err)
	}
	return g, nil
}

// Authorize loads a game and checks playerID is on its roster.
func (r *Registry) Authorize(ctx context.Context, gameID, playerID string) (Game, error) {
	g, err := r.Get(ctx, gameID)
	if err != nil {
		return Game{}, err
	}
	if !g.HasPlayer(playerID) {
		return Game{}, apperrors.New(apperrors.CodePlayerNotInGame, "player not in game")
	}
	return g, nil
}

// Map returns the map snapshot stored at creation.
func (r *Registry) Map(ctx context.Context, gameID string) ([]byte, error) {
	data, err := r.store.GetBlob(ctx, storage.GameMapKey(gameID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeGameNotFound, "game map not found")
	}
	if err != nil {
		return nil, apperrors.Unavailable("load game map", err)
	}
	return data, nil
}

// JoinGame adds playerID to the roster. The roster add, the capacity check and
// the start of play when the roster fills are one compare-and-swap on the
// record, retried while other joins interleave.
func (r *Registry) JoinGame(ctx context.Context, gameID, playerID string) (Game, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		g, err := r.Get(ctx, gameID)
		if err != nil {
			return Game{}, err
		}
		if g.State != StateWaitingForPlayers {
			return Game{}, apperrors.WithMetadata(apperrors.CodeGameNotAcceptingPlayers, "game is not accepting players",
				map[string]string{"State": string(g.State)})
		}
		if g.HasPlayer(playerID) {
			return Game{}, apperrors.New(apperrors.CodeAlreadyJoined, "player already joined")
		}
		if g.Full() {
			return Game{}, apperrors.New(apperrors.CodeGameFull, "game is full")
		}

		next := g.withPlayer(playerID)
		next.UpdatedAt = r.Now()
		update := storage.Fields{
			fieldRoster:      encodeRoster(next.Roster),
			fieldPlayerCount: strconv.Itoa(len(next.Roster)),
			fieldUpdatedAt:   formatTime(next.UpdatedAt),
		}
		if next.Full() {
			next.State = StateInProgress
			update[fieldState] = string(next.State)
		}

		swapped, err := r.store.CompareAndSwap(ctx, storage.GameMetaKey(gameID), storage.Fields{
			fieldState:  string(g.State),
			fieldRoster: encodeRoster(g.Roster),
		}, update)
		if errors.Is(err, storage.ErrNotFound) {
			return Game{}, apperrors.New(apperrors.CodeGameNotFound, "game not found")
		}
		if err != nil {
			return Game{}, apperrors.Unavailable("join game", err)
		}
		if !swapped {
			continue
		}

		r.touch(ctx, gameID)
		logger := log.Info().Str("gameId", gameID).Str("playerId", playerID).Int("players", len(next.Roster))
		if next.State == StateInProgress {
			logger.Msg("roster full, game started")
		} else {
			logger.Msg("player joined")
		}
		return next, nil
	}
	return Game{}, apperrors.New(apperrors.CodeContention, "too many concurrent joins")
}

// GetStatus reports progress of the current turn to a rostered player.
func (r *Registry) GetStatus(ctx context.Context, gameID, playerID string, counter SubmissionCounter) (Status, error) {
	g, err := r.Authorize(ctx, gameID, playerID)
	if err != nil {
		return Status{}, err
	}
	submitted := 0
	if g.State == StateInProgress || g.State == StateProcessingTurn {
		submitted, err = counter.CountSubmissions(ctx, gameID, g.CurrentTurn, g.Attempt)
		if err != nil {
			return Status{}, err
		}
	}
	required := g.MovesRequired()
	return Status{
		GameID:         g.ID,
		State:          g.State,
		CurrentTurn:    g.CurrentTurn,
		MovesSubmitted: submitted,
		MovesRequired:  required,
		AllMovesIn:     required > 0 && submitted >= required,
	}, nil
}

// Transition moves g to state to when the stored record still has g's state,
// turn and attempt. mutate may adjust the turn and attempt of the next
// snapshot. It returns the stored snapshot and whether this caller won.
func (r *Registry) Transition(ctx context.Context, g Game, to State, mutate func(*Game)) (Game, bool, error) {
	next := g
	next.Roster = slices.Clone(g.Roster)
	next.State = to
	if mutate != nil {
		mutate(&next)
	}
	if next.CurrentTurn < g.CurrentTurn {
		return Game{}, false, errors.New("current turn must not decrease")
	}
	next.UpdatedAt = r.Now()

	swapped, err := r.store.CompareAndSwap(ctx, storage.GameMetaKey(g.ID), storage.Fields{
		fieldState:       string(g.State),
		fieldCurrentTurn: strconv.Itoa(g.CurrentTurn),
		fieldAttempt:     strconv.Itoa(g.Attempt),
	}, lifecycleFields(next))
	if errors.Is(err, storage.ErrNotFound) {
		return Game{}, false, apperrors.New(apperrors.CodeGameNotFound, "game not found")
	}
	if err != nil {
		return Game{}, false, apperrors.Unavailable("transition game", err)
	}
	if !swapped {
		return g, false, nil
	}
	if !to.Terminal() {
		r.touch(ctx, g.ID)
	}
	return next, true, nil
}

// Retire expires every key of a finished game after ttl and drops it from the
// active index.
func (r *Registry) Retire(ctx context.Context, gameID string, ttl time.Duration) error {
	keys, err := r.store.Keys(ctx, storage.GamePrefix(gameID))
	if err != nil {
		return apperrors.Unavailable("list game keys", err)
	}
	for _, key := range keys {
		if _, err := r.store.Expire(ctx, key, ttl); err != nil {
			return apperrors.Unavailable("expire game key", err)
		}
	}
	return r.Forget(ctx, gameID)
}

// Forget drops gameID from the active index.
func (r *Registry) Forget(ctx context.Context, gameID string) error {
	if _, err := r.store.RemoveMember(ctx, storage.ActiveGamesKey, gameID); err != nil {
		return apperrors.Unavailable("remove active game", err)
	}
	return nil
}

// ActiveIDs lists indexed games in lexical order.
func (r *Registry) ActiveIDs(ctx context.Context) ([]string, error) {
	members, err := r.store.Members(ctx, storage.ActiveGamesKey)
	if err != nil {
		return nil, apperrors.Unavailable("list active games", err)
	}
	ids := make([]string, 0, len(members))
	for gameID := range members {
		ids = append(ids, gameID)
	}
	slices.Sort(ids)
	return ids, nil
}

// touch refreshes the TTL of every key of a live game, turn submissions and
// results included, so they expire together with the game record.
func (r *Registry) touch(ctx context.Context, gameID string) {
	keys, err := r.store.Keys(ctx, storage.GamePrefix(gameID))
	if err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("list game keys for ttl refresh")
		keys = []string{storage.GameMetaKey(gameID), storage.GameMapKey(gameID)}
	}
	for _, key := range keys {
		if _, err := r.store.Expire(ctx, key, r.activeTTL); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Str("key", key).Msg("refresh game ttl")
		}
	}
}
