package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener holds one dedicated pool connection subscribed to zero or
// more NOTIFY channels. A single connection can LISTEN to many
// channels at once: the outbound dispatcher watches all its routed
// sensors through one Listener, while a live WS session acquires one
// Listener per subscribed sensor.
type Listener struct {
	conn *pgxpool.Conn
}

// NewListener acquires a dedicated connection from the pool for
// LISTEN/NOTIFY use. The connection is held until Release is called,
// so callers must not leak Listeners.
func (s *Store) NewListener(ctx context.Context) (*Listener, error) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener connection: %w", err)
	}
	return &Listener{conn: conn}, nil
}

// Listen subscribes to channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, "LISTEN "+quoteIdentifier(channel))
	if err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	return nil
}

// Unlisten unsubscribes from channel.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, "UNLISTEN "+quoteIdentifier(channel))
	if err != nil {
		return fmt.Errorf("unlisten %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any
// subscribed channel, or ctx is cancelled.
func (l *Listener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.Conn().WaitForNotification(ctx)
}

// Release returns the underlying connection to the pool, whose
// AfterRelease hook (see Open) runs DISCARD ALL and so drops any LISTEN
// subscriptions the connection still holds.
func (l *Listener) Release() {
	l.conn.Release()
}
