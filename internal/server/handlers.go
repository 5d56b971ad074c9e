package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// WebSocketHandler upgrades GET /ws/{room_id}?token=... and runs the session
// in the handler goroutine until the connection closes.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("room_id"), 10, 64)
	if err != nil {
		http.Error(w, "room_id must be an integer", http.StatusBadRequest)
		return
	}

	if !s.trackSession() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg, s.log)
	stop := context.AfterFunc(s.baseCtx, func() {
		_ = client.CloseWithCode(websocket.CloseGoingAway, shutdownReason)
	})
	defer stop()

	ctx := context.WithoutCancel(r.Context())
	s.newSession(client, roomID, r.URL.Query().Get("token")).Run(ctx)
}

// HealthHandler reports liveness and the running version.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version})
}

// LogoutHandler revokes the bearer token presented in the Authorization header.
// Sessions already running are not affected.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.unauthorized(w)
		return
	}

	identity, err := s.validator.Validate(r.Context(), token)
	if err != nil {
		s.unauthorized(w)
		return
	}

	if err := s.revoker.RevokeToken(r.Context(), token); err != nil {
		s.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("failed to revoke token")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Could not revoke token"})
		return
	}

	s.log.Info().Int64("user_id", identity.UserID).Str("username", identity.Username).Msg("token revoked")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Successfully logged out"})
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	s.writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Could not validate credentials"})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("error writing JSON response")
	}
}

func newUpgrader(policy originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}
}
