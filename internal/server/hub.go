package server

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Tyrowin/roomchat/internal/server"

const shutdownReason = "server shutting down"

// Peer is a live connection the hub can route events to. The session that
// owns the connection is responsible for closing it; the hub only references
// it for delivery.
type Peer interface {
	ID() string
	Send(payload []byte) error
	Close() error
	CloseWithCode(code int, reason string) error
}

type peerSet map[Peer]struct{}

// Hub is the connection registry. It indexes live peers by room and by user
// and fans events out to them. All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]peerSet
	users  map[int64]peerSet
	log    zerolog.Logger
	tracer trace.Tracer
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[int64]peerSet),
		users:  make(map[int64]peerSet),
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

// Join registers peer under roomID and userID. Joining twice with the same
// triple is a no-op.
func (h *Hub) Join(roomID, userID int64, peer Peer) {
	h.mu.Lock()
	addPeer(h.rooms, roomID, peer)
	addPeer(h.users, userID, peer)
	roomSize := len(h.rooms[roomID])
	h.mu.Unlock()

	h.log.Info().
		Int64("room_id", roomID).
		Int64("user_id", userID).
		Str("conn_id", peer.ID()).
		Int("room_size", roomSize).
		Msg("connection joined room")
}

// Leave removes peer from both indices and drops sets left empty. Leaving a
// room the peer never joined is a no-op.
func (h *Hub) Leave(roomID, userID int64, peer Peer) {
	h.mu.Lock()
	removedFromRoom := removePeer(h.rooms, roomID, peer)
	removedFromUser := removePeer(h.users, userID, peer)
	roomSize := len(h.rooms[roomID])
	h.mu.Unlock()

	if !removedFromRoom && !removedFromUser {
		return
	}
	h.log.Info().
		Int64("room_id", roomID).
		Int64("user_id", userID).
		Str("conn_id", peer.ID()).
		Int("room_size", roomSize).
		Msg("connection left room")
}

func addPeer(index map[int64]peerSet, key int64, peer Peer) {
	set, ok := index[key]
	if !ok {
		set = make(peerSet)
		index[key] = set
	}
	set[peer] = struct{}{}
}

func removePeer(index map[int64]peerSet, key int64, peer Peer) bool {
	set, ok := index[key]
	if !ok {
		return false
	}
	if _, ok := set[peer]; !ok {
		return false
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(index, key)
	}
	return true
}

// Broadcast delivers event to every peer in roomID at the time of the call and
// returns how many accepted it. A failing peer is logged and closed; delivery
// to the others continues.
func (h *Hub) Broadcast(ctx context.Context, roomID int64, event Event) int {
	_, span := h.tracer.Start(ctx, "hub.broadcast", trace.WithAttributes(
		attribute.Int64("room_id", roomID),
		attribute.String("event_type", string(event.Type)),
	))
	defer span.End()

	peers := h.snapshot(h.rooms, roomID)
	delivered := h.fanOut(peers, event)
	span.SetAttributes(
		attribute.Int("recipients", len(peers)),
		attribute.Int("delivered", delivered),
	)
	h.log.Debug().
		Int64("room_id", roomID).
		Str("event_type", string(event.Type)).
		Int("recipients", len(peers)).
		Int("delivered", delivered).
		Msg("broadcast")
	return delivered
}

// SendToUser delivers event to every connection registered for userID, with
// the same isolation guarantees as Broadcast.
func (h *Hub) SendToUser(ctx context.Context, userID int64, event Event) int {
	_, span := h.tracer.Start(ctx, "hub.send_to_user", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("event_type", string(event.Type)),
	))
	defer span.End()

	peers := h.snapshot(h.users, userID)
	delivered := h.fanOut(peers, event)
	span.SetAttributes(attribute.Int("delivered", delivered))
	return delivered
}

// snapshot copies the peer set under the read lock so sends happen unlocked.
func (h *Hub) snapshot(index map[int64]peerSet, key int64) []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := index[key]
	peers := make([]Peer, 0, len(set))
	for peer := range set {
		peers = append(peers, peer)
	}
	return peers
}

func (h *Hub) fanOut(peers []Peer, event Event) int {
	if len(peers) == 0 {
		return 0
	}
	payload, err := marshalEvent(event)
	if err != nil {
		h.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to encode event")
		return 0
	}

	delivered := 0
	for _, peer := range peers {
		if h.deliver(peer, payload) {
			delivered++
		}
	}
	return delivered
}

// deliver sends payload to one peer and never panics or returns an error to
// the fan-out loop.
func (h *Hub) deliver(peer Peer, payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("conn_id", peer.ID()).Msg("recovered from panic during delivery")
			ok = false
		}
	}()

	err := peer.Send(payload)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrClientClosed) {
		h.log.Debug().Str("conn_id", peer.ID()).Msg("skipping closed connection")
		return false
	}

	h.log.Warn().Err(err).Str("conn_id", peer.ID()).Msg("failed to deliver event; closing connection")
	if closeErr := peer.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
		h.log.Warn().Err(closeErr).Str("conn_id", peer.ID()).Msg("error closing failed connection")
	}
	return false
}

// RoomSize returns the number of connections currently in roomID.
func (h *Hub) RoomSize(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// UserConnections returns the number of connections registered for userID.
func (h *Hub) UserConnections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Stats returns the number of non-empty rooms and registered connections.
func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, set := range h.rooms {
		connections += len(set)
	}
	return rooms, connections
}

// Shutdown sends a going-away close frame to every registered connection and
// returns how many were closed. Each session then runs its own teardown.
func (h *Hub) Shutdown() int {
	h.log.Info().Msg("shutting down all client connections")

	h.mu.RLock()
	seen := make(peerSet)
	for _, set := range h.rooms {
		for peer := range set {
			seen[peer] = struct{}{}
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for peer := range seen {
		wg.Add(1)
		go func(peer Peer) {
			defer wg.Done()
			if err := peer.CloseWithCode(websocket.CloseGoingAway, shutdownReason); err != nil && !isExpectedCloseError(err) {
				h.log.Warn().Err(err).Str("conn_id", peer.ID()).Msg("error closing client connection")
			}
		}(peer)
	}
	wg.Wait()

	h.log.Info().Int("closed", len(seen)).Msg("closed client connections")
	return len(seen)
}
