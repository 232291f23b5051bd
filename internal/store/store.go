// Package store is sensbee's persistence layer: a pgx connection pool,
// goose-driven schema migrations, and hand-written repository methods
// for every entity in the data model (sensors, columns, roles, users,
// API keys, data chains, transformers, event handlers and log events).
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool shared by every component that
// needs database access. All components share one pool; transactions
// are the isolation unit.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and verifies the connection with a
// ping. Callers must call Close when done.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	// A connection released back to the pool after LISTEN/UNLISTEN use
	// (internal/store.Listener) must not carry its subscriptions into
	// whatever the pool hands it out for next; DISCARD ALL resets all
	// session state, not just LISTEN, so a connection is never reused
	// with another caller's leftover state.
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		_, err := conn.Exec(context.Background(), "DISCARD ALL")
		return err == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases every connection in the pool.
func (s *Store) Close() {
	s.Pool.Close()
}
