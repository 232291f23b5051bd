package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateApiKey inserts a new API key row.
func (s *Store) CreateApiKey(ctx context.Context, key ApiKey) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO api_keys (id, sensor_id, user_id, operation, name) VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.SensorID, key.UserID, string(key.Operation), key.Name,
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetApiKeyByID loads an API key by id.
func (s *Store) GetApiKeyByID(ctx context.Context, id string) (*ApiKey, error) {
	var k ApiKey
	k.ID = id
	var op string
	err := s.Pool.QueryRow(ctx,
		`SELECT sensor_id, user_id, operation, name, created_at FROM api_keys WHERE id = $1`, id,
	).Scan(&k.SensorID, &k.UserID, &op, &k.Name, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key %s: %w", id, err)
	}
	k.Operation = ApiKeyOperation(op)
	return &k, nil
}

// DeleteApiKey removes a single API key.
func (s *Store) DeleteApiKey(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key %s: %w", id, err)
	}
	return nil
}

// DeleteApiKeysForUser removes every API key owned by userID, used
// when a user or its last granting role binding disappears.
func (s *Store) DeleteApiKeysForUser(ctx context.Context, userID string) ([]string, error) {
	return s.deleteApiKeysReturningIDs(ctx, `DELETE FROM api_keys WHERE user_id = $1 RETURNING id`, userID)
}

// DeleteApiKeysForSensor removes every API key issued against sensorID.
func (s *Store) DeleteApiKeysForSensor(ctx context.Context, sensorID string) ([]string, error) {
	return s.deleteApiKeysReturningIDs(ctx, `DELETE FROM api_keys WHERE sensor_id = $1 RETURNING id`, sensorID)
}

func (s *Store) deleteApiKeysReturningIDs(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("delete api keys: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted api key id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
