package httpapi

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/louisbranch/robotbattle/internal/platform/httpx"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/coordinator"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/identity"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

// APIKeyHeader carries the player credential.
const APIKeyHeader = "X-API-Key"

const maxBodyBytes = 1 << 20

// Deps are the collaborators behind the API.
type Deps struct {
	Store       storage.Store
	Games       *registry.Registry
	Coordinator *coordinator.Coordinator
	Identity    *identity.Issuer
	Environment string
	// NewSeed draws a map seed when a create request has none.
	NewSeed func() int64
	// WatchInterval is how often a watch connection re-reads game status.
	WatchInterval time.Duration
}

type server struct {
	Deps
}

// NewHandler returns the API handler with its middleware applied.
func NewHandler(deps Deps) (http.Handler, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Games == nil:
		return nil, errors.New("game registry is required")
	case deps.Coordinator == nil:
		return nil, errors.New("coordinator is required")
	case deps.Identity == nil:
		return nil, errors.New("identity issuer is required")
	}
	if deps.NewSeed == nil {
		deps.NewSeed = rand.Int64
	}
	if deps.WatchInterval <= 0 {
		deps.WatchInterval = DefaultWatchInterval
	}
	s := &server{Deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /game/create", s.handleCreateGame)
	mux.HandleFunc("POST /game/{id}/join", s.handleJoinGame)
	mux.Handle("GET /game/{id}/status", s.authenticated(s.handleStatus))
	mux.Handle("POST /game/{id}/submit", s.authenticated(s.handleSubmit))
	mux.Handle("GET /game/{id}/results", s.authenticated(s.handleResults))
	mux.Handle("GET /game/{id}/watch", s.authenticated(s.handleWatch))

	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RecoverPanic(),
		httpx.AccessLog(),
	), nil
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"name":   "robotbattle",
		"health": "/health",
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.Store.Ping(r.Context()) == nil
	resp := healthResponse{Status: "healthy", Store: healthy, Environment: s.Environment}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	_ = httpx.WriteJSON(w, status, resp)
}
