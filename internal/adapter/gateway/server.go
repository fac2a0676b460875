// Package gateway is the HTTP surface of the assistant.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"estate-assistant/internal/infra/config"
	"estate-assistant/internal/infra/metrics"
	"estate-assistant/internal/infra/middleware"
)

// HandlerDeps holds what the HTTP routes need.
type HandlerDeps struct {
	Runner    ChatRunner
	Validator *RequestValidator
	Logger    *slog.Logger
}

// NewHandler builds the routed, middleware-wrapped handler:
// the chat endpoint, /healthz and, when enabled, /metrics.
func NewHandler(cfg config.ServerConfig, deps HandlerDeps) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.ChatPath, &chatHandler{
		runner:    deps.Runner,
		validator: deps.Validator,
		maxBody:   cfg.MaxBodyBytes,
		logger:    deps.Logger,
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}

	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.RequestID(deps.Logger),
		middleware.CORS(cfg.CORSOrigins),
	)
}

// Server runs the HTTP listener.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	logger  *slog.Logger

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// NewServer creates a server for handler.
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, handler: handler, logger: logger, ready: make(chan struct{})}
}

// Start begins accepting connections. Blocks until ctx is cancelled or the
// listener fails; on cancellation in-flight requests get ShutdownTimeout to finish.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("gateway started", "addr", s.BoundAddr(), "chat_path", s.cfg.ChatPath)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
