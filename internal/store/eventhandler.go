package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateEventHandler inserts a new webhook handler row.
func (s *Store) CreateEventHandler(ctx context.Context, h EventHandler) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO event_handler (id, name, filter, url, method) VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.Name, h.Filter, h.URL, h.Method,
	)
	if err != nil {
		return fmt.Errorf("create event handler: %w", err)
	}
	return nil
}

// GetEventHandler loads a single handler by id.
func (s *Store) GetEventHandler(ctx context.Context, id string) (*EventHandler, error) {
	var h EventHandler
	h.ID = id
	err := s.Pool.QueryRow(ctx,
		`SELECT name, filter, url, method FROM event_handler WHERE id = $1`, id,
	).Scan(&h.Name, &h.Filter, &h.URL, &h.Method)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event handler %s: %w", id, err)
	}
	return &h, nil
}

// DeleteEventHandler removes a handler and notifies the outbound
// engine, since the handler's routes (cascaded) no longer exist.
func (s *Store) DeleteEventHandler(ctx context.Context, id, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM event_handler WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event handler %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
