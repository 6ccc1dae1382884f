package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/louisbranch/robotbattle/internal/platform/requestctx"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
)

// DefaultWatchInterval is how often a watch connection polls the store.
const DefaultWatchInterval = time.Second

// Watch frame types.
const (
	frameStatus = "game.status"
	frameError  = "game.error"
)

type watchFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// handleWatch upgrades to a websocket and pushes a status frame whenever the
// game's state, turn or submission count changes. Status is re-read from the
// store so any instance can serve the feed. The stream ends once the game is
// terminal or the client goes away.
func (s *server) handleWatch(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	playerID := requestctx.PlayerIDFromContext(r.Context())
	ws := websocket.Server{
		// Credentials are checked before the upgrade; any origin may watch.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			s.watch(conn, gameID, playerID)
		},
	}
	ws.ServeHTTP(w, r)
}

func (s *server) watch(conn *websocket.Conn, gameID, playerID string) {
	defer func() {
		_ = conn.Close()
	}()
	request := conn.Request()
	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()

	// Clients never send frames; a read error means they hung up.
	go func() {
		defer cancel()
		_, _ = io.Copy(io.Discard, conn)
	}()

	ticker := time.NewTicker(s.WatchInterval)
	defer ticker.Stop()

	var last registry.Status
	sent := false
	for {
		status, err := s.Coordinator.GetStatus(ctx, gameID, playerID)
		if err != nil {
			if ctx.Err() == nil {
				_, _, body := describeError(request, err)
				_ = websocket.JSON.Send(conn, watchFrame{Type: frameError, Payload: body})
			}
			return
		}
		if !sent || status != last {
			if err := websocket.JSON.Send(conn, watchFrame{Type: frameStatus, Payload: toStatusResponse(status)}); err != nil {
				log.Debug().Err(err).Str("game_id", gameID).Msg("watch send failed")
				return
			}
			last, sent = status, true
		}
		if status.State.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
