package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/robotbattle/internal/platform/grpc"
	"github.com/louisbranch/robotbattle/internal/platform/telemetry"
	"github.com/louisbranch/robotbattle/internal/platform/timeouts"
	httpapi "github.com/louisbranch/robotbattle/internal/services/game/api/http"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/coordinator"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/identity"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/ledger"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/registry"
	"github.com/louisbranch/robotbattle/internal/services/game/domain/resolve"
	"github.com/louisbranch/robotbattle/internal/services/game/storage"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/memory"
	"github.com/louisbranch/robotbattle/internal/services/game/storage/sqlite"
)

// HealthService is the gRPC health service name reported alongside the
// overall server status.
const HealthService = "robotbattle.game"

// Server hosts the game HTTP API and gRPC health endpoint.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	store        storage.Store
	coordinator  *coordinator.Coordinator
	sweeper      *coordinator.Sweeper
}

// New builds a server from cfg and binds its listeners.
func New(ctx context.Context, cfg Config) (server *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	signingKey, err := loadSigningKey(cfg)
	if err != nil {
		return nil, err
	}
	win, err := resolve.NewWinCondition(cfg.WinRule, cfg.TurnLimit, cfg.WinScript)
	if err != nil {
		return nil, fmt.Errorf("win condition: %w", err)
	}
	metrics, err := telemetry.NewTurnMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("turn metrics: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	games := registry.New(store, registry.WithActiveTTL(cfg.ActiveGameTTL))
	turns := ledger.New(store, games)
	coord := coordinator.New(games, turns, resolve.StubResolver{},
		coordinator.WithWinCondition(win),
		coordinator.WithCompletedTTL(cfg.CompletedGameTTL),
		coordinator.WithDispatcher(coordinator.NewDispatcher(cfg.ResolveWorkers, cfg.ResolveQueue)),
		coordinator.WithMetrics(metrics),
	)
	defer func() {
		if err != nil {
			_ = coord.Close(context.Background())
		}
	}()
	issuer, err := identity.NewIssuer(store, signingKey, identity.WithTTL(cfg.SessionTTL))
	if err != nil {
		return nil, err
	}
	handler, err := httpapi.NewHandler(httpapi.Deps{
		Store:       store,
		Games:       games,
		Coordinator: coord,
		Identity:    issuer,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, err
	}

	httpListener, err := net.Listen("tcp", cfg.httpListenAddr())
	if err != nil {
		return nil, fmt.Errorf("listen http on %s: %w", cfg.httpListenAddr(), err)
	}
	grpcListener, err := net.Listen("tcp", cfg.grpcListenAddr())
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen grpc on %s: %w", cfg.grpcListenAddr(), err)
	}
	grpcServer, healthServer := platformgrpc.NewHealthServer(HealthService)

	return &Server{
		httpListener: httpListener,
		grpcListener: grpcListener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcServer:  grpcServer,
		health:      healthServer,
		store:       store,
		coordinator: coord,
		sweeper:     coordinator.NewSweeper(coord, store, cfg.sweepConfig()),
	}, nil
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC health listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a game server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve blocks until ctx ends or a listener fails, then shuts everything
// down: listeners first, then pending resolutions, then the store.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Info().Str("http", s.HTTPAddr()).Str("grpc", s.GRPCAddr()).Msg("game server listening")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})
	return group.Wait()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()

	s.health.Shutdown()
	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	s.grpcServer.GracefulStop()
	if err := s.coordinator.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain resolutions: %w", err))
	}
	log.Info().Msg("game server stopped")
	return errors.Join(errs...)
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close game store")
	}
}

func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case StoreMemory:
		log.Warn().Msg("using in-memory store; game state is lost on restart")
		return memory.New(), nil
	default:
		store, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

// loadSigningKey decodes the configured key. Development runs without one get
// a random key, which invalidates every credential on restart.
func loadSigningKey(cfg Config) ([]byte, error) {
	if strings.TrimSpace(cfg.SessionSigningKey) != "" {
		return identity.DecodeKey(cfg.SessionSigningKey)
	}
	if cfg.Environment != EnvironmentDevelopment {
		return nil, errors.New("ROBOTBATTLE_SESSION_SIGNING_KEY is required outside development")
	}
	key := make([]byte, identity.MinKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	log.Warn().Msg("no session signing key configured, using an ephemeral key")
	return key, nil
}
