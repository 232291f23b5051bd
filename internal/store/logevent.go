package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// generalChannel is the fallback NOTIFY channel used when a log event
// carries no derivable sensor id.
const generalChannel = "log_events"

// InsertLogEvent persists ev and notifies its channel — "sensor/<id>"
// when ev.SensorID is set, otherwise the general "log_events" channel —
// inside one transaction, so every listener sees the event only after
// it's durably stored.
func (s *Store) InsertLogEvent(ctx context.Context, ev LogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO log_events (t, sensor_id, data) VALUES ($1, $2, $3)`,
		ev.WallTime, ev.SensorID, data,
	); err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}

	channel := generalChannel
	if ev.SensorID != nil && *ev.SensorID != "" {
		channel = "sensor/" + *ev.SensorID
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(data)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}

	return tx.Commit(ctx)
}

// LoadSensorHistory replays the most recent log events for a sensor,
// in ascending time order, capped at limit (C9 replays up to 10 rows
// on subscribe).
func (s *Store) LoadSensorHistory(ctx context.Context, sensorID string, limit int) ([]json.RawMessage, error) {
	return s.loadHistory(ctx,
		`SELECT data FROM log_events WHERE sensor_id = $1 ORDER BY t DESC LIMIT $2`, sensorID, limit)
}

// LoadGeneralHistory replays the most recent log events across all
// sensors, used by the admin fallback subscription.
func (s *Store) LoadGeneralHistory(ctx context.Context, limit int) ([]json.RawMessage, error) {
	return s.loadHistory(ctx,
		`SELECT data FROM log_events ORDER BY t DESC LIMIT $1`, limit)
}

func (s *Store) loadHistory(ctx context.Context, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load log event history: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data json.RawMessage
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan log event: %w", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse: the query orders DESC to take the most recent N rows,
	// but replay must be in ascending time order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
