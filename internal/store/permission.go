package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetRoleByName looks up a role (system or custom) by name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	role.Name = name
	err := s.Pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&role.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role %q: %w", name, err)
	}
	return &role, nil
}

// GetRoleByID looks up a role by id.
func (s *Store) GetRoleByID(ctx context.Context, id string) (*Role, error) {
	var role Role
	role.ID = id
	err := s.Pool.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, id).Scan(&role.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", id, err)
	}
	return &role, nil
}

// ListRolesForUser returns the ids of every role bound to userID.
func (s *Store) ListRolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles for user %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddUserRole binds roleID to userID. Idempotent.
func (s *Store) AddUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("add user role: %w", err)
	}
	return nil
}

// RemoveUserRole unbinds roleID from userID.
func (s *Store) RemoveUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("remove user role: %w", err)
	}
	return nil
}

// ListSensorPermissions returns every `(sensor, role)` permission row
// for sensorID; the permission oracle OR's the bits across the rows
// whose role applies to the caller.
func (s *Store) ListSensorPermissions(ctx context.Context, sensorID string) ([]SensorPermission, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT role_id, allow_info, allow_read, allow_write
		 FROM sensor_permissions WHERE sensor_id = $1`, sensorID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sensor permissions %s: %w", sensorID, err)
	}
	defer rows.Close()

	var perms []SensorPermission
	for rows.Next() {
		p := SensorPermission{SensorID: sensorID}
		if err := rows.Scan(&p.RoleID, &p.AllowInfo, &p.AllowRead, &p.AllowWrite); err != nil {
			return nil, fmt.Errorf("scan sensor permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// SetSensorPermission upserts the permission bits for (sensorID, roleID).
func (s *Store) SetSensorPermission(ctx context.Context, p SensorPermission) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sensor_permissions (sensor_id, role_id, allow_info, allow_read, allow_write)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (sensor_id, role_id) DO UPDATE
		 SET allow_info = $3, allow_read = $4, allow_write = $5`,
		p.SensorID, p.RoleID, p.AllowInfo, p.AllowRead, p.AllowWrite,
	)
	if err != nil {
		return fmt.Errorf("set sensor permission: %w", err)
	}
	return nil
}

// DeleteSensorPermission removes the (sensorID, roleID) permission row.
func (s *Store) DeleteSensorPermission(ctx context.Context, sensorID, roleID string) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM sensor_permissions WHERE sensor_id = $1 AND role_id = $2`, sensorID, roleID,
	)
	if err != nil {
		return fmt.Errorf("delete sensor permission: %w", err)
	}
	return nil
}
