package httpapi

import (
	"encoding/json"

	"github.com/louisbranch/robotbattle/internal/services/game/domain/hexmap"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

type mapConfig struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   *int64 `json:"seed,omitempty"`
}

type createGameRequest struct {
	MaxPlayers *int      `json:"max_players"`
	MapConfig  mapConfig `json:"map_config"`
	PlayerName string    `json:"player_name"`
}

type createGameResponse struct {
	GameID          string        `json:"game_id"`
	CreatorPlayerID string        `json:"creator_player_id"`
	APIKey          string        `json:"api_key"`
	State           string        `json:"state"`
	MaxPlayers      int           `json:"max_players"`
	Units           []hexmap.Unit `json:"units"`
}

type joinGameRequest struct {
	PlayerName string `json:"player_name"`
}

type joinGameResponse struct {
	GameID         string          `json:"game_id"`
	PlayerID       string          `json:"player_id"`
	APIKey         string          `json:"api_key"`
	Map            json.RawMessage `json:"map"`
	Units          []hexmap.Unit   `json:"units"`
	CurrentPlayers int             `json:"current_players"`
	MaxPlayers     int             `json:"max_players"`
	State          string          `json:"state"`
}

type statusResponse struct {
	GameID         string `json:"game_id"`
	State          string `json:"state"`
	CurrentTurn    int    `json:"current_turn"`
	MovesSubmitted int    `json:"moves_submitted"`
	MovesRequired  int    `json:"moves_required"`
	AllMovesIn     bool   `json:"all_moves_in"`
}

type moveAction struct {
	UnitID string          `json:"unit_id"`
	Action string          `json:"action"`
	Target json.RawMessage `json:"target"`
}

type submitMoveRequest struct {
	Turn  *int         `json:"turn"`
	Moves []moveAction `json:"moves"`
}

type submitMoveResponse struct {
	Success        bool `json:"success"`
	Turn           int  `json:"turn"`
	MovesSubmitted int  `json:"moves_submitted"`
	MovesRequired  int  `json:"moves_required"`
	Processing     bool `json:"processing"`
}

type resultsResponse struct {
	Ready    bool          `json:"ready"`
	Turn     int           `json:"turn"`
	State    string        `json:"state"`
	Updates  []turn.Record `json:"updates"`
	Events   []turn.Record `json:"events"`
	NextTurn *int          `json:"next_turn"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Store       bool   `json:"store"`
	Environment string `json:"environment"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}
