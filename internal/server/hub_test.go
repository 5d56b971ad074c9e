package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/server"
)

type mockPeer struct {
	id      string
	sendErr error

	mu        sync.Mutex
	received  [][]byte
	closed    int
	closeCode int
}

func newMockPeer(id string) *mockPeer {
	return &mockPeer{id: id}
}

func (p *mockPeer) ID() string { return p.id }

func (p *mockPeer) Send(payload []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, payload)
	return nil
}

func (p *mockPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *mockPeer) CloseWithCode(code int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	p.closeCode = code
	return nil
}

func (p *mockPeer) events(t *testing.T) []server.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]server.Event, 0, len(p.received))
	for _, raw := range p.received {
		var ev server.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (p *mockPeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func TestHubJoinThenLeaveRestoresState(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	peer := newMockPeer("a")

	hub.Join(7, 1, peer)
	assert.Equal(t, 1, hub.RoomSize(7))
	assert.Equal(t, 1, hub.UserConnections(1))

	hub.Leave(7, 1, peer)
	rooms, conns := hub.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
	assert.Zero(t, hub.RoomSize(7))
	assert.Zero(t, hub.UserConnections(1))
}

func TestHubJoinIsIdempotent(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	peer := newMockPeer("a")

	hub.Join(7, 1, peer)
	hub.Join(7, 1, peer)
	assert.Equal(t, 1, hub.RoomSize(7))

	delivered := hub.Broadcast(context.Background(), 7, server.SystemEvent("hello"))
	assert.Equal(t, 1, delivered)
	assert.Len(t, peer.events(t), 1)

	hub.Leave(7, 1, peer)
	assert.Zero(t, hub.RoomSize(7))
}

func TestHubLeaveUnknownIsNoop(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	member := newMockPeer("member")
	stranger := newMockPeer("stranger")
	hub.Join(7, 1, member)

	hub.Leave(7, 2, stranger)
	hub.Leave(8, 1, member)

	assert.Equal(t, 1, hub.RoomSize(7))
	assert.Equal(t, 1, hub.UserConnections(1))
}

func TestHubBroadcastIsolatesFailingPeer(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())

	const n = 5
	peers := make([]*mockPeer, n)
	for i := range peers {
		peers[i] = newMockPeer(fmt.Sprintf("p%d", i))
		hub.Join(7, int64(i+1), peers[i])
	}
	peers[2].sendErr = errors.New("broken pipe")

	delivered := hub.Broadcast(context.Background(), 7, server.SystemEvent("User alice has joined the chat"))
	assert.Equal(t, n-1, delivered)

	for i, peer := range peers {
		if i == 2 {
			assert.Empty(t, peer.events(t))
			assert.Equal(t, 1, peer.closeCount())
			continue
		}
		events := peer.events(t)
		require.Len(t, events, 1, "peer %d", i)
		assert.Equal(t, server.EventSystem, events[0].Type)
		assert.Equal(t, "User alice has joined the chat", events[0].Content)
		assert.Zero(t, peer.closeCount())
	}
}

func TestHubBroadcastSkipsClosedClientWithoutClosing(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	closed := newMockPeer("closed")
	closed.sendErr = server.ErrClientClosed
	hub.Join(7, 1, closed)

	assert.Zero(t, hub.Broadcast(context.Background(), 7, server.SystemEvent("x")))
	assert.Zero(t, closed.closeCount())
}

func TestHubBroadcastOnlyReachesRoom(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	inRoom := newMockPeer("in")
	elsewhere := newMockPeer("out")
	hub.Join(7, 1, inRoom)
	hub.Join(8, 2, elsewhere)

	hub.Broadcast(context.Background(), 7, server.SystemEvent("only seven"))

	assert.Len(t, inRoom.events(t), 1)
	assert.Empty(t, elsewhere.events(t))
	assert.Zero(t, hub.Broadcast(context.Background(), 99, server.SystemEvent("nobody")))
}

func TestHubSendToUserReachesEveryDevice(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	phone := newMockPeer("phone")
	laptop := newMockPeer("laptop")
	other := newMockPeer("other")
	hub.Join(7, 1, phone)
	hub.Join(8, 1, laptop)
	hub.Join(7, 2, other)

	delivered := hub.SendToUser(context.Background(), 1, server.SystemEvent("direct"))

	assert.Equal(t, 2, delivered)
	assert.Len(t, phone.events(t), 1)
	assert.Len(t, laptop.events(t), 1)
	assert.Empty(t, other.events(t))
	assert.Equal(t, 2, hub.UserConnections(1))
}

func TestHubShutdownClosesEveryPeer(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	a := newMockPeer("a")
	b := newMockPeer("b")
	hub.Join(7, 1, a)
	hub.Join(8, 2, b)

	assert.Equal(t, 2, hub.Shutdown())
	for _, peer := range []*mockPeer{a, b} {
		assert.Equal(t, 1, peer.closeCount())
		peer.mu.Lock()
		assert.Equal(t, websocket.CloseGoingAway, peer.closeCode)
		peer.mu.Unlock()
	}
}

func TestHubConcurrentJoinLeaveBroadcast(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	stable := newMockPeer("stable")
	hub.Join(7, 0, stable)

	const workers = 20
	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := newMockPeer(fmt.Sprintf("w%d", i))
			for r := 0; r < rounds; r++ {
				hub.Join(7, int64(i+1), peer)
				hub.Broadcast(context.Background(), 7, server.SystemEvent("tick"))
				hub.Leave(7, int64(i+1), peer)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, hub.RoomSize(7))
	rooms, conns := hub.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, conns)
	assert.Len(t, stable.events(t), workers*rounds)
}
