// Package store persists users, rooms, messages, and revoked tokens in SQLite.
//
// It is the data-access collaborator of the real-time core: the server only
// needs PersistMessage and RoomExists, and the token validator only needs
// UserByUsername and IsTokenRevoked.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/store/migrations"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements chat persistence over SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Open opens the SQLite database at path and applies the embedded schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.log.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateUser registers a user. Email is optional.
func (s *Store) CreateUser(ctx context.Context, username, email string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, errors.New("username is required")
	}
	var emailValue sql.NullString
	if email = strings.TrimSpace(email); email != "" {
		emailValue = sql.NullString{String: email, Valid: true}
	}
	createdAt := s.now()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)",
		username, emailValue, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("user %q: %w", username, domain.ErrAlreadyExists)
		}
		return domain.User{}, fmt.Errorf("insert user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("user id: %w", err)
	}
	return domain.User{
		ID:        id,
		Username:  username,
		Email:     email,
		CreatedAt: fromMillis(toMillis(createdAt)),
	}, nil
}

// UserByUsername looks a user up by its unique username.
func (s *Store) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	var (
		user      domain.User
		email     sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("query user %q: %w", username, err)
	}
	user.Email = email.String
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateRoom creates a named room owned by createdBy.
func (s *Store) CreateRoom(ctx context.Context, name string, createdBy int64) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, errors.New("room name is required")
	}
	createdAt := s.now()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_rooms (name, created_by, created_at) VALUES (?, ?, ?)",
		name, createdBy, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Room{}, fmt.Errorf("room %q: %w", name, domain.ErrAlreadyExists)
		}
		if isForeignKeyViolation(err) {
			return domain.Room{}, fmt.Errorf("room creator %d: %w", createdBy, domain.ErrNotFound)
		}
		return domain.Room{}, fmt.Errorf("insert room %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Room{}, fmt.Errorf("room id: %w", err)
	}
	return domain.Room{
		ID:        id,
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: fromMillis(toMillis(createdAt)),
	}, nil
}

// RoomExists reports whether roomID names a room.
func (s *Store) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM chat_rooms WHERE id = ?", roomID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query room %d: %w", roomID, err)
	}
	return true, nil
}

// PersistMessage stores content from userID in roomID with a server-assigned
// timestamp.
func (s *Store) PersistMessage(ctx context.Context, roomID, userID int64, content string) (domain.Message, error) {
	timestamp := fromMillis(toMillis(s.now()))

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (user_id, room_id, content, timestamp) VALUES (?, ?, ?, ?)",
		userID, roomID, content, toMillis(timestamp),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Message{}, fmt.Errorf("message in room %d by user %d: %w", roomID, userID, domain.ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, fmt.Errorf("message id: %w", err)
	}
	return domain.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Timestamp: timestamp,
	}, nil
}

// RevokeToken adds token to the revocation set, and tokenID too when it is
// non-empty. Revoking twice is a no-op.
func (s *Store) RevokeToken(ctx context.Context, token, tokenID string) error {
	revokedAt := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (token_id, revoked_at) VALUES (?, ?)",
		domain.TokenIdentifier(token), revokedAt,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("revoke token: %w", err)
	}
	if tokenID = strings.TrimSpace(tokenID); tokenID != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO revoked_token_ids (jti, revoked_at) VALUES (?, ?)",
			tokenID, revokedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("revoke token id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}

// IsTokenIDRevoked reports whether the token id (jti) is in the revocation set.
func (s *Store) IsTokenIDRevoked(ctx context.Context, tokenID string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_token_ids WHERE jti = ?", tokenID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query revoked token id: %w", err)
	}
	return true, nil
}

// IsTokenRevoked reports whether token is in the revocation set.
func (s *Store) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_id = ?",
		domain.TokenIdentifier(token),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
