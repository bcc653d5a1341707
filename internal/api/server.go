package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labkit/instrumental/internal/alias"
	"github.com/labkit/instrumental/internal/audit"
	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/infrastructure/config"
	"github.com/labkit/instrumental/internal/infrastructure/logging"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/resolver"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Resolver is the part of *resolver.Resolver the server uses.
type Resolver interface {
	ListInstruments(ctx context.Context, opts resolver.ListOptions) ([]paramset.ParamSet, error)
	Open(ctx context.Context, request any, opts ...resolver.OpenOption) (driver.Instrument, error)
	Session() *driver.Session
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Resolver Resolver
	Aliases  alias.Store      // optional; GET /aliases answers 503 without it
	Audit    audit.Repository // optional; GET /audit answers 503 without it
	Hub      *Hub        // optional; created from Config.WebSocket when nil
	Version  string
}

// Server is the HTTP API server.
//
// Lifecycle:
//
//	srv, err := api.New(deps)
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Close()
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	resolver Resolver
	aliases  alias.Store
	audit    audit.Repository
	hub      *Hub
	version  string

	// held pins instruments opened over HTTP until DELETE or Close.
	heldMu sync.Mutex
	held   map[uuid.UUID]driver.Instrument

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a new API server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		resolver: deps.Resolver,
		aliases:  deps.Aliases,
		audit:    deps.Audit,
		hub:      deps.Hub,
		version:  deps.Version,
		held:     make(map[uuid.UUID]driver.Instrument),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}
	return s, nil
}

// Hub returns the event hub. Register it on the session with
// driver.WithListener or Session.AddListener.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start listens on Config.Listen and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	server := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server, s.addr, s.cancel = server, ln.Addr(), cancel
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.cfg.TokenSecret != "")
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the server and closes the instruments it
// holds. It waits up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	server, cancel := s.server, s.cancel
	s.mu.Unlock()

	var errs []error
	if server != nil {
		cancel()
		ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer done()
		s.logger.Info("API server shutting down")
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down API server: %w", err))
		}
	}

	s.heldMu.Lock()
	held := s.held
	s.held = make(map[uuid.UUID]driver.Instrument)
	s.heldMu.Unlock()
	for _, inst := range held {
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

func (s *Server) hold(inst driver.Instrument) {
	s.heldMu.Lock()
	s.held[driver.InstanceID(inst)] = inst
	s.heldMu.Unlock()
}

func (s *Server) release(id uuid.UUID) {
	s.heldMu.Lock()
	delete(s.held, id)
	s.heldMu.Unlock()
}
