package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

// State is a game lifecycle state.
type State string

const (
	StateWaitingForPlayers State = "waiting_for_players"
	StateInProgress        State = "in_progress"
	StateProcessingTurn    State = "processing_turn"
	StateComplete          State = "complete"
	StateAbandoned         State = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAbandoned
}

// Capacity limits.
const (
	MinCapacity     = 2
	MaxCapacity     = 8
	DefaultCapacity = 4
)

const (
	fieldState       = "state"
	fieldCurrentTurn = "current_turn"
	fieldAttempt     = "attempt"
	fieldCapacity    = "capacity"
	fieldRoster      = "roster"
	fieldPlayerCount = "player_count"
	fieldMapSeed     = "map_seed"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// Game is a snapshot of one game record.
type Game struct {
	ID          string
	State       State
	CurrentTurn int
	// Attempt counts failed resolutions of CurrentTurn.
	Attempt  int
	Capacity int
	// Roster is sorted.
	Roster    []string
	MapSeed   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPlayer reports whether playerID is on the roster.
func (g Game) HasPlayer(playerID string) bool {
	_, found := slices.BinarySearch(g.Roster, playerID)
	return found
}

// MovesRequired is the number of submissions that completes a turn.
func (g Game) MovesRequired() int {
	return len(g.Roster)
}

// Full reports whether the roster reached capacity.
func (g Game) Full() bool {
	return len(g.Roster) >= g.Capacity
}

func (g Game) withPlayer(playerID string) Game {
	roster := make([]string, 0, len(g.Roster)+1)
	roster = append(roster, g.Roster...)
	roster = append(roster, playerID)
	slices.Sort(roster)
	g.Roster = roster
	return g
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeRoster(roster []string) string {
	if len(roster) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(roster)
	return string(data)
}

func encodeGame(g Game) storage.Fields {
	return storage.Fields{
		fieldState:       string(g.State),
		fieldCurrentTurn: strconv.Itoa(g.CurrentTurn),
		fieldAttempt:     strconv.Itoa(g.Attempt),
		fieldCapacity:    strconv.Itoa(g.Capacity),
		fieldRoster:      encodeRoster(g.Roster),
		fieldPlayerCount: strconv.Itoa(len(g.Roster)),
		fieldMapSeed:     strconv.FormatInt(g.MapSeed, 10),
		fieldCreatedAt:   formatTime(g.CreatedAt),
		fieldUpdatedAt:   formatTime(g.UpdatedAt),
	}
}

// lifecycleFields are the fields a transition may change; the CAS guard
// covers state, turn and attempt.
func lifecycleFields(g Game) storage.Fields {
	return storage.Fields{
		fieldState:       string(g.State),
		fieldCurrentTurn: strconv.Itoa(g.CurrentTurn),
		fieldAttempt:     strconv.Itoa(g.Attempt),
		fieldUpdatedAt:   formatTime(g.UpdatedAt),
	}
}

func decodeGame(id string, f storage.Fields) (Game, error) {
	g := Game{ID: id, State: State(f[fieldState])}
	var err error
	if g.CurrentTurn, err = strconv.Atoi(f[fieldCurrentTurn]); err != nil {
		return Game{}, fmt.Errorf("decode current_turn: %w", err)
	}
	if raw := f[fieldAttempt]; raw != "" {
		if g.Attempt, err = strconv.Atoi(raw); err != nil {
			return Game{}, fmt.Errorf("decode attempt: %w", err)
		}
	}
	if g.Capacity, err = strconv.Atoi(f[fieldCapacity]); err != nil {
		return Game{}, fmt.Errorf("decode capacity: %w", err)
	}
	if err := json.Unmarshal([]byte(f[fieldRoster]), &g.Roster); err != nil {
		return Game{}, fmt.Errorf("decode roster: %w", err)
	}
	slices.Sort(g.Roster)
	if raw := f[fieldMapSeed]; raw != "" {
		if g.MapSeed, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Game{}, fmt.Errorf("decode map_seed: %w", err)
		}
	}
	if g.CreatedAt, err = time.Parse(time.RFC3339Nano, f[fieldCreatedAt]); err != nil {
		return Game{}, fmt.Errorf("decode created_at: %w", err)
	}
	if g.UpdatedAt, err = time.Parse(time.RFC3339Nano, f[fieldUpdatedAt]); err != nil {
		return Game{}, fmt.Errorf("decode updated_at: %w", err)
	}
	return g, nil
}
