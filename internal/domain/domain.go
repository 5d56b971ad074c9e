// Package domain defines the chat entities shared by the token validator, the
// storage layer, and the real-time server.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned for every token rejection, whatever the cause.
	ErrUnauthorized = errors.New("could not validate credentials")
	// ErrNotFound is returned when a user, room, or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique username or room name is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Identity is the authenticated user bound to a connection for its lifetime.
type Identity struct {
	UserID   int64
	Username string
}

// User is a registered chat user.
type User struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}

// Identity returns the identity carried by a session for this user.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username}
}

// Room is a named chat room.
type Room struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
}

// Message is a persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Content   string
	Timestamp time.Time
}

// TokenIdentifier derives the revocation-set key for a raw bearer token.
// Surrounding whitespace is not part of the token.
func TokenIdentifier(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
