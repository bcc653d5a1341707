package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/labkit/instrumental/internal/paramset"
)

// idleTimeout closes connections that send nothing for this long.
const idleTimeout = 2 * time.Minute

// Logger defines the logging interface used by the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ListFunc lists the local instruments, optionally restricted to modules
// whose path contains module.
type ListFunc func(ctx context.Context, module string) ([]paramset.ParamSet, error)

// Deps holds what the server needs.
type Deps struct {
	// Addr is the listen address. Empty means all interfaces on DefaultPort.
	Addr   string
	List   ListFunc
	Logger Logger
}

// Server answers list_instruments requests from remote resolvers.
//
// Lifecycle:
//
//	srv, err := remote.New(deps)
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Close()
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	addr   string
	list   ListFunc
	logger Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.List == nil {
		return nil, fmt.Errorf("list function is required")
	}
	s := &Server{
		addr:   deps.Addr,
		list:   deps.List,
		logger: deps.Logger,
		conns:  make(map[net.Conn]struct{}),
	}
	if s.addr == "" {
		s.addr = fmt.Sprintf(":%d", DefaultPort)
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// Start listens and serves in the background until ctx ends or Close.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.Serve(ctx, ln)
	return nil
}

// Serve serves on ln in the background. Start calls it; tests pass their
// own listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	srvCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln, s.cancel = ln, cancel
	s.mu.Unlock()

	s.logger.Info("remote server listening", "address", ln.Addr().String())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		<-srvCtx.Done()
		ln.Close() //nolint:errcheck // Unblocks Accept
		s.closeConns()
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop(srvCtx, ln)
	}()
}

// Addr returns the listening address.
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil, ErrNotStarted
	}
	return s.ln.Addr(), nil
}

// Close stops listening, closes open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("remote server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("remote accept failed", "error", err)
			}
			return
		}
		s.mu.Lock()
		// closeConns may already have run for a connection accepted
		// while the listener was closing.
		if ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close() //nolint:errcheck // Shutting down
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close() //nolint:errcheck // Already done with it
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close() //nolint:errcheck // Shutting down
	}
}

// handle answers requests on conn until it closes.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	s.logger.Debug("remote client connected", "peer", peer)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout)) //nolint:errcheck // Best effort
		var req request
		id, err := readFrame(conn, &req)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("remote client dropped", "peer", peer, "error", err)
			}
			return
		}

		resp := s.answer(ctx, req)
		if err := writeFrame(conn, id, resp); err != nil {
			s.logger.Warn("remote response failed", "peer", peer, "error", err)
			return
		}
	}
}

func (s *Server) answer(ctx context.Context, req request) response {
	if req.Op != opListInstruments {
		return response{Error: fmt.Sprintf("%v: %q", ErrUnknownOp, req.Op)}
	}
	list, err := s.list(ctx, req.Module)
	if err != nil {
		s.logger.Warn("remote list failed", "error", err)
		return response{Error: err.Error()}
	}
	resp := response{Instruments: make([]wireParams, 0, len(list))}
	for _, ps := range list {
		resp.Instruments = append(resp.Instruments, toWire(ps))
	}
	return resp
}
