package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateTransformer inserts a new data transformer row with version 1.
func (s *Store) CreateTransformer(ctx context.Context, id, name, script string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO data_transformer (id, name, script, version) VALUES ($1, $2, $3, 1)`,
		id, name, script,
	)
	if err != nil {
		return fmt.Errorf("create transformer: %w", err)
	}
	return nil
}

// GetTransformer loads a transformer's script body by id.
func (s *Store) GetTransformer(ctx context.Context, id string) (*DataTransformer, error) {
	var t DataTransformer
	t.ID = id
	err := s.Pool.QueryRow(ctx,
		`SELECT name, script, version, created_at, updated_at FROM data_transformer WHERE id = $1`, id,
	).Scan(&t.Name, &t.Script, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transformer %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTransformer implements the content-addressed update invariant:
// it allocates newID for the new script body rather than mutating
// oldID in place, so callers still holding oldID keep resolving the
// script that existed before the update. It notifies the outbound
// engine because any route referencing oldID must now be treated as
// stale once callers switch to newID.
func (s *Store) UpdateTransformer(ctx context.Context, newID, oldID, name, script string, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int
	err = tx.QueryRow(ctx, `SELECT version FROM data_transformer WHERE id = $1`, oldID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load previous transformer version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO data_transformer (id, name, script, version) VALUES ($1, $2, $3, $4)`,
		newID, name, script, version+1,
	); err != nil {
		return fmt.Errorf("insert updated transformer: %w", err)
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteTransformer removes a transformer row.
func (s *Store) DeleteTransformer(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM data_transformer WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transformer %s: %w", id, err)
	}
	return nil
}
