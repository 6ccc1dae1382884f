package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/httpx"
	"github.com/louisbranch/robotbattle/internal/platform/requestctx"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/turn"
)

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := s.Coordinator.GetStatus(ctx, r.PathValue("id"), requestctx.PlayerIDFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toStatusResponse(status))
}

func toStatusResponse(status registry.Status) statusResponse {
	return statusResponse{
		GameID:         status.GameID,
		State:          string(status.State),
		CurrentTurn:    status.CurrentTurn,
		MovesSubmitted: status.MovesSubmitted,
		MovesRequired:  status.MovesRequired,
		AllMovesIn:     status.AllMovesIn,
	}
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitMoveRequest
	if err := httpx.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, invalidRequest(err))
		return
	}
	if req.Turn == nil || *req.Turn < 0 {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidTurn, "turn must be zero or greater"))
		return
	}
	moves, err := toMoves(req.Moves)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := s.Coordinator.SubmitMove(ctx, r.PathValue("id"), *req.Turn, requestctx.PlayerIDFromContext(ctx), moves)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, submitMoveResponse{
		Success:        res.Accepted,
		Turn:           res.Turn,
		MovesSubmitted: res.MovesSubmitted,
		MovesRequired:  res.MovesRequired,
		Processing:     res.Processing,
	})
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	turnNumber, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("turn")))
	if err != nil || turnNumber < 0 {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidTurn, "turn query parameter must be zero or greater"))
		return
	}
	ctx := r.Context()
	res, err := s.Coordinator.GetResults(ctx, r.PathValue("id"), turnNumber, requestctx.PlayerIDFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := resultsResponse{Ready: res.Ready, Turn: res.Turn, State: string(res.State)}
	if res.Ready {
		resp.Updates = nonNil(res.Updates)
		resp.Events = nonNil(res.Events)
		next := res.NextTurn
		resp.NextTurn = &next
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}

func toMoves(actions []moveAction) ([]turn.Move, error) {
	moves := make([]turn.Move, 0, len(actions))
	for i, action := range actions {
		unitID := strings.TrimSpace(action.UnitID)
		kind := strings.TrimSpace(action.Action)
		if unitID == "" || kind == "" {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidMoves, "move is missing unit_id or action",
				map[string]string{"Index": strconv.Itoa(i)})
		}
		moves = append(moves, turn.Move{UnitID: unitID, Action: kind, Target: action.Target})
	}
	return moves, nil
}

func nonNil(records []turn.Record) []turn.Record {
	if records == nil {
		return []turn.Record{}
	}
	return records
}
