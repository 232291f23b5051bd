package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// configChannel is the control bus the outbound engine (C8) listens
// on; any mutation that changes sensor→handler routing notifies it
// from inside the same transaction as the row change, so a listener
// never observes a partially-applied configuration.
const configChannel = "log_events_handler"

// GetInboundTransformer returns the inbound transformer id configured
// for sensorID, or "" if the sensor has no data chain / no inbound
// transformer set.
func (s *Store) GetInboundTransformer(ctx context.Context, sensorID string) (string, error) {
	var inbound *string
	err := s.Pool.QueryRow(ctx,
		`SELECT inbound_dt_id FROM sensor_data_chain WHERE sensor_id = $1`, sensorID,
	).Scan(&inbound)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get inbound transformer for sensor %s: %w", sensorID, err)
	}
	if inbound == nil {
		return "", nil
	}
	return *inbound, nil
}

// SetDataChain upserts the sensor's inbound transformer and notifies
// the outbound engine to rebuild its routing table.
func (s *Store) SetDataChain(ctx context.Context, sensorID string, inboundTransformerID *string, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO sensor_data_chain (sensor_id, inbound_dt_id) VALUES ($1, $2)
		 ON CONFLICT (sensor_id) DO UPDATE SET inbound_dt_id = $2`,
		sensorID, inboundTransformerID,
	); err != nil {
		return fmt.Errorf("set data chain for sensor %s: %w", sensorID, err)
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteDataChain clears the sensor's inbound transformer and
// notifies the outbound engine.
func (s *Store) DeleteDataChain(ctx context.Context, sensorID, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sensor_data_chain WHERE sensor_id = $1`, sensorID); err != nil {
		return fmt.Errorf("delete data chain for sensor %s: %w", sensorID, err)
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AddOutboundRoute adds one `(handler, optional transformer)` entry to
// a sensor's outbound data chain and notifies the outbound engine.
func (s *Store) AddOutboundRoute(ctx context.Context, route OutboundRoute, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO sensor_data_chain_outbound (id, sensor_id, data_transformer_id, event_handler_id)
		 VALUES ($1, $2, $3, $4)`,
		route.ID, route.SensorID, route.TransformerID, route.HandlerID,
	); err != nil {
		return fmt.Errorf("add outbound route: %w", err)
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RemoveOutboundRoute removes one outbound route and notifies the
// outbound engine.
func (s *Store) RemoveOutboundRoute(ctx context.Context, routeID, otelContext string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sensor_data_chain_outbound WHERE id = $1`, routeID); err != nil {
		return fmt.Errorf("remove outbound route %s: %w", routeID, err)
	}

	if err := notifyConfigChange(ctx, tx, otelContext); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListOutboundRoutes loads the entire sensor→handler routing table,
// read by the outbound engine on every rebuild.
func (s *Store) ListOutboundRoutes(ctx context.Context) ([]OutboundRoute, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, sensor_id, data_transformer_id, event_handler_id FROM sensor_data_chain_outbound`,
	)
	if err != nil {
		return nil, fmt.Errorf("list outbound routes: %w", err)
	}
	defer rows.Close()

	var routes []OutboundRoute
	for rows.Next() {
		var r OutboundRoute
		if err := rows.Scan(&r.ID, &r.SensorID, &r.TransformerID, &r.HandlerID); err != nil {
			return nil, fmt.Errorf("scan outbound route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func notifyConfigChange(ctx context.Context, tx pgx.Tx, otelContext string) error {
	payload := fmt.Sprintf(`{"otel":{"context":%q}}`, otelContext)
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, configChannel, payload); err != nil {
		return fmt.Errorf("notify config change: %w", err)
	}
	return nil
}
