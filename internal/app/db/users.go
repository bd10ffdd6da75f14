/*
Package db provides PostgreSQL access for the relay's two external collaborators:
the user-identity record consulted during handshake verification and the persisted
presence record mutated on connect and disconnect.
*/
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay/internal/app/presence"
	"chatrelay/internal/app/user"
)

// ErrUserNotFound is returned when a user id has no row in the users table.
var ErrUserNotFound = errors.New("user not found")

// Store wraps the connection pool with the queries the relay core needs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetUserByID resolves a user id to its identity record.
// A malformed or unknown id yields ErrUserNotFound.
func (s *Store) GetUserByID(ctx context.Context, id string) (user.Identity, error) {
	const q = `SELECT id, username FROM users WHERE id = $1::uuid`

	// A non-UUID id would fail the cast with a generic pg error; reject it here
	// so callers see the same not-found result as for an unknown id.
	if _, err := uuid.Parse(id); err != nil {
		return user.Identity{}, ErrUserNotFound
	}

	var ident user.Identity
	err := s.pool.QueryRow(ctx, q, id).Scan(&ident.ID, &ident.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.Identity{}, ErrUserNotFound
		}
		return user.Identity{}, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}

	return ident, nil
}

// SetStatus updates a user's persisted presence status and last-seen timestamp.
func (s *Store) SetStatus(ctx context.Context, userID string, status presence.Status, at time.Time) error {
	const q = `UPDATE users SET status = $2, last_seen = $3, updated_at = now() WHERE id = $1::uuid`

	if _, err := uuid.Parse(userID); err != nil {
		return ErrUserNotFound
	}

	tag, err := s.pool.Exec(ctx, q, userID, string(status), at)
	if err != nil {
		return fmt.Errorf("failed to update presence for user %s: %w", userID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// GetPresence reads a user's last-known presence record.
func (s *Store) GetPresence(ctx context.Context, userID string) (presence.Record, error) {
	const q = `SELECT id, status, last_seen FROM users WHERE id = $1::uuid`

	if _, err := uuid.Parse(userID); err != nil {
		return presence.Record{}, ErrUserNotFound
	}

	var rec presence.Record
	var status string
	err := s.pool.QueryRow(ctx, q, userID).Scan(&rec.UserID, &status, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return presence.Record{}, ErrUserNotFound
		}
		return presence.Record{}, fmt.Errorf("failed to fetch presence for user %s: %w", userID, err)
	}

	rec.Status = presence.Status(status)
	return rec, nil
}
