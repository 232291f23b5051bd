package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new user row. passwordHash is a bcrypt hash,
// computed by the caller.
func (s *Store) CreateUser(ctx context.Context, id, name, passwordHash string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO users (id, name, password_hash) VALUES ($1, $2, $3)`,
		id, name, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID loads a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	u.ID = id
	err := s.Pool.QueryRow(ctx,
		`SELECT name, password_hash, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByName loads a user by their login name.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	var u User
	u.Name = name
	err := s.Pool.QueryRow(ctx,
		`SELECT id, password_hash, created_at FROM users WHERE name = $1`, name,
	).Scan(&u.ID, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name %q: %w", name, err)
	}
	return &u, nil
}

// DeleteUser removes a user row; cascades to sessions, role bindings,
// OIDC identities and API keys.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession issues a new session token for userID, expiring ttl
// from now.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO user_sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sessionID, userID, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// ResolveSession returns the user id bound to a session token, if the
// session exists and hasn't expired.
func (s *Store) ResolveSession(ctx context.Context, sessionID string) (string, error) {
	var userID string
	var expiresAt time.Time
	err := s.Pool.QueryRow(ctx,
		`SELECT user_id, expires_at FROM user_sessions WHERE id = $1`, sessionID,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return "", ErrNotFound
	}
	return userID, nil
}

// DeleteSession revokes a session token (logout).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
