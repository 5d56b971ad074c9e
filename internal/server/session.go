package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// TokenValidator resolves a bearer token to the identity it was issued for.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (domain.Identity, error)
}

// MessageStore is the persistence the chat core needs.
type MessageStore interface {
	RoomExists(ctx context.Context, roomID int64) (bool, error)
	PersistMessage(ctx context.Context, roomID, userID int64, content string) (domain.Message, error)
}

// TokenRevoker records a token as no longer valid.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token string) error
}

// SessionState is the lifecycle stage of a Session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection from authentication to teardown.
type Session struct {
	client    *Client
	hub       *Hub
	validator TokenValidator
	store     MessageStore
	limiter   *rate.Limiter
	tracer    trace.Tracer
	log       zerolog.Logger

	roomID   int64
	token    string
	identity domain.Identity

	state        atomic.Int32
	teardownOnce sync.Once
}

func (s *Server) newSession(client *Client, roomID int64, token string) *Session {
	return &Session{
		client:    client,
		hub:       s.hub,
		validator: s.validator,
		store:     s.store,
		limiter:   newRateLimiter(s.cfg.RateLimit),
		tracer:    s.hub.tracer,
		log:       client.log.With().Int64("room_id", roomID).Logger(),
		roomID:    roomID,
		token:     token,
	}
}

// State reports the current lifecycle stage.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Run blocks until the connection is closed. Once the session has joined the
// room, leaving it and announcing the departure happen exactly once on every
// exit path.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("recovered from panic in session")
		}
	}()

	if !s.authenticate(ctx) || !s.checkRoom(ctx) {
		return
	}

	s.setState(StateActive)
	defer s.teardown(ctx)

	s.activate(ctx)
	s.receiveLoop(ctx)
}

func (s *Session) authenticate(ctx context.Context) bool {
	identity, err := s.validator.Validate(ctx, s.token)
	if err != nil {
		s.log.Info().Err(err).Msg("rejected connection")
		s.reject(websocket.ClosePolicyViolation, "unauthorized")
		return false
	}

	s.identity = identity
	s.log = s.log.With().Int64("user_id", identity.UserID).Str("username", identity.Username).Logger()
	s.setState(StateAuthenticated)
	return true
}

func (s *Session) checkRoom(ctx context.Context) bool {
	exists, err := s.store.RoomExists(ctx, s.roomID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to look up room")
		s.reject(websocket.CloseInternalServerErr, "internal error")
		return false
	}
	if !exists {
		s.log.Info().Msg("rejected connection to unknown room")
		s.reject(websocket.ClosePolicyViolation, "room not found")
		return false
	}
	return true
}

func (s *Session) reject(code int, reason string) {
	if err := s.client.CloseWithCode(code, reason); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error closing rejected connection")
	}
	s.setState(StateClosed)
}

func (s *Session) activate(ctx context.Context) {
	s.client.Start()
	s.hub.Join(s.roomID, s.identity.UserID, s.client)
	s.hub.Broadcast(ctx, s.roomID, SystemEvent(joinedNotice(s.identity.Username)))
}

func (s *Session) receiveLoop(ctx context.Context) {
	for {
		data, err := s.client.ReadFrame()
		if err != nil {
			s.client.logReadError(err)
			return
		}

		if !s.limiter.Allow() {
			s.log.Warn().Int("burst", s.limiter.Burst()).Msg("rate limit exceeded; discarding frame")
			continue
		}

		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	content, err := parseInboundFrame(data)
	switch {
	case errors.Is(err, ErrMalformedFrame):
		s.log.Debug().Err(err).Msg("malformed frame")
		s.reply([]byte(malformedFrameReply))
	case errors.Is(err, ErrIncompleteFrame):
		s.log.Debug().Err(err).Msg("ignoring incomplete frame")
	case err != nil:
		s.log.Warn().Err(err).Msg("unexpected frame error")
	default:
		s.deliver(ctx, content)
	}
}

// deliver persists content and broadcasts it. A message that could not be
// stored is never broadcast.
func (s *Session) deliver(ctx context.Context, content string) {
	ctx, span := s.tracer.Start(ctx, "session.deliver", trace.WithAttributes(
		attribute.Int64("room_id", s.roomID),
		attribute.Int64("user_id", s.identity.UserID),
	))
	defer span.End()

	msg, err := s.store.PersistMessage(ctx, s.roomID, s.identity.UserID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message")
		s.log.Error().Err(err).Msg("failed to persist message")
		s.notify(SystemEvent(persistFailureNotice))
		return
	}

	span.SetAttributes(attribute.Int64("message_id", msg.ID))
	s.hub.Broadcast(ctx, s.roomID, MessageEvent(s.identity, msg))
}

// notify sends event to this connection only.
func (s *Session) notify(event Event) {
	payload, err := marshalEvent(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode notice")
		return
	}
	s.reply(payload)
}

func (s *Session) reply(payload []byte) {
	if err := s.client.Send(payload); err != nil {
		s.log.Debug().Err(err).Msg("failed to queue reply")
	}
}

func (s *Session) teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		defer s.setState(StateClosed)
		defer func() {
			if err := s.client.Close(); err != nil && !isExpectedCloseError(err) {
				s.log.Debug().Err(err).Msg("error closing connection")
			}
		}()

		s.hub.Leave(s.roomID, s.identity.UserID, s.client)
		s.hub.Broadcast(context.WithoutCancel(ctx), s.roomID, SystemEvent(leftNotice(s.identity.Username)))
	})
}
