package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint. Overridden at build time with
// -ldflags "-X github.com/Tyrowin/roomchat/internal/server.Version=...".
var Version = "1.0.0"

// Deps are the collaborators a Server needs.
type Deps struct {
	Validator TokenValidator
	Store     MessageStore
	Revoker   TokenRevoker
	Logger    zerolog.Logger
}

// Server owns the hub, the HTTP listener and every live session.
type Server struct {
	cfg       Config
	hub       *Hub
	validator TokenValidator
	store     MessageStore
	revoker   TokenRevoker
	upgrader  websocket.Upgrader
	log       zerolog.Logger

	httpServer *http.Server

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New builds a Server from cfg, which is sanitized first.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Validator == nil {
		return nil, errors.New("server: validator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("server: message store is required")
	}
	if deps.Revoker == nil {
		return nil, errors.New("server: token revoker is required")
	}

	cfg = SanitizeConfig(cfg)
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		hub:       NewHub(deps.Logger),
		validator: deps.Validator,
		store:     deps.Store,
		revoker:   deps.Revoker,
		upgrader:  newUpgrader(newOriginPolicy(cfg.AllowedOrigins, deps.Logger)),
		log:       deps.Logger,
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
	s.httpServer = CreateServer(cfg.Port, s.Handler())
	return s, nil
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.SetupRoutes()
}

// ListenAndServe serves until Shutdown is called, which makes it return nil.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every live session and waits
// for their teardown until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.log.Info().Msg("shutting down HTTP server")
	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		s.log.Warn().Err(httpErr).Msg("HTTP server shutdown error")
	}

	s.hub.Shutdown()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("all sessions closed")
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}

	if httpErr != nil {
		return fmt.Errorf("shutdown http server: %w", httpErr)
	}
	return nil
}

// trackSession registers a session with the shutdown wait group. It reports
// false once shutdown has begun.
func (s *Server) trackSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}
