package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/httpx"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/hexmap"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/identity"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
)

const maxPlayerNameLength = 50

func (s *server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := httpx.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, invalidRequest(err))
		return
	}
	capacity := registry.DefaultCapacity
	if req.MaxPlayers != nil {
		capacity = *req.MaxPlayers
	}
	cfg := hexmap.Config{Width: req.MapConfig.Width, Height: req.MapConfig.Height}
	if req.MapConfig.Seed != nil {
		cfg.Seed = *req.MapConfig.Seed
	} else {
		cfg.Seed = s.NewSeed()
	}
	board, err := hexmap.Generate(cfg)
	if err != nil {
		writeError(w, r, apperrors.WithMetadata(apperrors.CodeInvalidMapConfig, err.Error(), map[string]string{
			"Min": strconv.Itoa(hexmap.MinSize),
			"Max": strconv.Itoa(hexmap.MaxSize),
		}))
		return
	}
	snapshot, err := json.Marshal(board)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	g, err := s.Games.CreateGame(ctx, capacity, cfg.Seed, snapshot)
	if err != nil {
		writeError(w, r, err)
		return
	}
	playerID, err := identity.NewPlayerID()
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err = s.Games.JoinGame(ctx, g.ID, playerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	credential, err := s.Identity.Issue(ctx, playerID, g.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("gameId", g.ID).Str("playerId", playerID).Str("playerName", strings.TrimSpace(req.PlayerName)).Msg("game created by player")

	_ = httpx.WriteJSON(w, http.StatusOK, createGameResponse{
		GameID:          g.ID,
		CreatorPlayerID: playerID,
		APIKey:          credential,
		State:           string(g.State),
		MaxPlayers:      g.Capacity,
		Units:           hexmap.InitialUnits(playerID, board.SpawnFor(0)),
	})
}

func (s *server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := httpx.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, invalidRequest(err))
		return
	}
	name := strings.TrimSpace(req.PlayerName)
	if n := utf8.RuneCountInString(name); n < 1 || n > maxPlayerNameLength {
		writeError(w, r, apperrors.WithMetadata(apperrors.CodeInvalidPlayerName, "player name length out of range", map[string]string{
			"Min": "1",
			"Max": strconv.Itoa(maxPlayerNameLength),
		}))
		return
	}

	ctx := r.Context()
	gameID := r.PathValue("id")
	playerID, err := identity.NewPlayerID()
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.Games.JoinGame(ctx, gameID, playerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	credential, err := s.Identity.Issue(ctx, playerID, g.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snapshot, err := s.Games.Map(ctx, g.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var units []hexmap.Unit
	var board hexmap.Map
	if err := json.Unmarshal(snapshot, &board); err == nil {
		units = hexmap.InitialUnits(playerID, board.SpawnFor(len(g.Roster)-1))
	}
	log.Info().Str("gameId", g.ID).Str("playerId", playerID).Str("playerName", name).Msg("player joined game")

	_ = httpx.WriteJSON(w, http.StatusOK, joinGameResponse{
		GameID:         g.ID,
		PlayerID:       playerID,
		APIKey:         credential,
		Map:            json.RawMessage(snapshot),
		Units:          units,
		CurrentPlayers: len(g.Roster),
		MaxPlayers:     g.Capacity,
		State:          string(g.State),
	})
}
