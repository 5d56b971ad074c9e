package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/store"
)

func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "chat.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := store.Open(context.Background(), " ")
	require.Error(t, err)
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	first, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	_, err = first.CreateUser(context.Background(), "alice", "")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	user, err := second.UserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	created, err := s.CreateUser(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	found, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = s.CreateUser(ctx, "alice", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.UserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUsersWithoutEmailDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.CreateUser(ctx, "alice", "")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "bob", "")
	require.NoError(t, err)
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	owner, err := s.CreateUser(ctx, "alice", "")
	require.NoError(t, err)

	room, err := s.CreateRoom(ctx, "general", owner.ID)
	require.NoError(t, err)

	exists, err := s.RoomExists(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.RoomExists(ctx, room.ID+100)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.CreateRoom(ctx, "general", owner.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.CreateRoom(ctx, "orphan", owner.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersistMessage(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 10, 30, 0, 123456789, time.UTC)
	s := openStore(t, store.WithClock(func() time.Time { return fixed }))

	alice, err := s.CreateUser(ctx, "alice", "")
	require.NoError(t, err)
	room, err := s.CreateRoom(ctx, "general", alice.ID)
	require.NoError(t, err)

	msg, err := s.PersistMessage(ctx, room.ID, alice.ID, "hi")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, room.ID, msg.RoomID)
	assert.Equal(t, alice.ID, msg.UserID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, fixed.Truncate(time.Millisecond), msg.Timestamp)

	var (
		content string
		userID  int64
	)
	err = s.DB().QueryRowContext(ctx, "SELECT content, user_id FROM messages WHERE id = ?", msg.ID).Scan(&content, &userID)
	require.NoError(t, err)
	assert.Equal(t, "hi", content)
	assert.Equal(t, alice.ID, userID)
}

func TestPersistMessageUnknownRoom(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	alice, err := s.CreateUser(ctx, "alice", "")
	require.NoError(t, err)

	_, err = s.PersistMessage(ctx, 999, alice.ID, "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevokeToken(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	revoked, err := s.IsTokenRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "token-a", ""))
	require.NoError(t, s.RevokeToken(ctx, "token-a", ""))

	revoked, err = s.IsTokenRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsTokenRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeTokenIgnoresSurroundingWhitespace(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.RevokeToken(ctx, "  token-a\n", ""))

	revoked, err := s.IsTokenRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevokeTokenRecordsTokenID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	revoked, err := s.IsTokenIDRevoked(ctx, "01JTOKENID")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "token-a", "01JTOKENID"))
	require.NoError(t, s.RevokeToken(ctx, "token-a", "01JTOKENID"))

	revoked, err = s.IsTokenIDRevoked(ctx, "01JTOKENID")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsTokenIDRevoked(ctx, "01JOTHER")
	require.NoError(t, err)
	assert.False(t, revoked)
}
