package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Server is the HTTP front end over one Engine.
type Server struct {
	engine *Engine
	logger *slog.Logger
	http   *http.Server
}

// New builds the server with its middleware chain. The operator
// endpoints (/approve, /deny) sit behind bearer auth when a secret is
// configured; /analyze, /callback, and the read-only endpoints do not,
// since the agent host and the webhook peer authenticate at the network
// layer.
func New(engine *Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger}

	secret := engine.cfg.Server.AuthSecret
	operator := func(h http.HandlerFunc) http.Handler {
		return withOperatorAuth(secret, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.Handle("POST /approve/{id}", operator(s.handleApprove))
	mux.Handle("POST /deny/{id}", operator(s.handleDeny))
	mux.HandleFunc("POST /callback/{id}", s.handleCallback)
	mux.HandleFunc("POST /filter-output", s.handleFilterOutput)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleNotFound)

	var limiter *rate.Limiter
	if rl := engine.cfg.Server.RateLimit; rl > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl), engine.cfg.Server.RateBurst)
	}

	handler := withRateLimit(limiter, mux)
	handler = withLogging(logger, handler)
	handler = withRecovery(logger, handler)

	s.http = &http.Server{
		Addr:         net.JoinHostPort(engine.cfg.Server.Host, fmt.Sprintf("%d", engine.cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler. Test hook.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start blocks on the listener until Shutdown or a fatal error.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.engine.Close(ctx)
}
