package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("not found")

func sqlValueType(vt ValueType) string {
	switch vt {
	case ValueTypeInt:
		return "bigint"
	case ValueTypeFloat:
		return "double precision"
	case ValueTypeString:
		return "text"
	default:
		return "text"
	}
}

// CreateSensor inserts the sensor's metadata, its declared columns,
// and creates (and, for INCREMENTAL columns, instruments) its backing
// table, all inside one transaction.
func (s *Store) CreateSensor(ctx context.Context, sensor Sensor) error {
	for _, col := range sensor.Columns {
		if err := validateIdentifier(col.Name); err != nil {
			return fmt.Errorf("create sensor: %w", err)
		}
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO sensor (id, owner_id, name, lat, lon) VALUES ($1, $2, $3, $4, $5)`,
		sensor.ID, sensor.OwnerID, sensor.Name, sensor.Lat, sensor.Lon,
	); err != nil {
		return fmt.Errorf("insert sensor: %w", err)
	}

	for i, col := range sensor.Columns {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sensor_column (sensor_id, ord, name, value_type, unit, ingest_mode)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sensor.ID, i, col.Name, string(col.ValueType), col.Unit, string(col.IngestMode),
		); err != nil {
			return fmt.Errorf("insert sensor_column %q: %w", col.Name, err)
		}
	}

	if err := createBackingTable(ctx, tx, sensor.ID, sensor.Columns); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// createBackingTable issues the per-sensor CREATE TABLE plus one
// BEFORE INSERT trigger per INCREMENTAL column. The trigger rewrites a
// NULL insert into the previous row's value and a non-NULL insert into
// previous-value-combined-with-new-value (numeric addition for
// INT/FLOAT, concatenation for STRING).
func createBackingTable(ctx context.Context, tx pgx.Tx, sensorID string, columns []Column) error {
	table := sensorTableName(sensorID)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdentifier(table))
	for _, col := range columns {
		fmt.Fprintf(&b, "  %s %s,\n", quoteIdentifier(col.Name), sqlValueType(col.ValueType))
	}
	b.WriteString("  created_at timestamp NOT NULL DEFAULT now()\n)")

	if _, err := tx.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("create backing table: %w", err)
	}

	for _, col := range columns {
		if col.IngestMode != IngestModeIncremental {
			continue
		}
		if err := createIncrementalTrigger(ctx, tx, table, col); err != nil {
			return err
		}
	}
	return nil
}

func createIncrementalTrigger(ctx context.Context, tx pgx.Tx, table string, col Column) error {
	fnName := quoteIdentifier(table + "_" + col.Name + "_incr")
	qTable := quoteIdentifier(table)
	qCol := quoteIdentifier(col.Name)

	var combine string
	switch col.ValueType {
	case ValueTypeInt, ValueTypeFloat:
		combine = fmt.Sprintf("prev.%s + NEW.%s", qCol, qCol)
	default:
		combine = fmt.Sprintf("COALESCE(prev.%s, '') || NEW.%s", qCol, qCol)
	}

	fn := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
DECLARE
  prev %s%%ROWTYPE;
BEGIN
  SELECT * INTO prev FROM %s ORDER BY created_at DESC LIMIT 1;
  IF NOT FOUND THEN
    RETURN NEW;
  END IF;
  IF NEW.%s IS NULL THEN
    NEW.%s := prev.%s;
  ELSE
    NEW.%s := %s;
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
`, fnName, qTable, qTable, qCol, qCol, qCol, qCol, combine)

	if _, err := tx.Exec(ctx, fn); err != nil {
		return fmt.Errorf("create incremental trigger function for %q: %w", col.Name, err)
	}

	trigger := fmt.Sprintf(
		`CREATE TRIGGER %s BEFORE INSERT ON %s FOR EACH ROW EXECUTE FUNCTION %s()`,
		quoteIdentifier(table+"_"+col.Name+"_incr_trg"), qTable, fnName,
	)
	if _, err := tx.Exec(ctx, trigger); err != nil {
		return fmt.Errorf("create incremental trigger for %q: %w", col.Name, err)
	}
	return nil
}

// GetSensor loads a sensor's metadata and declared columns.
func (s *Store) GetSensor(ctx context.Context, id string) (*Sensor, error) {
	var sensor Sensor
	sensor.ID = id
	err := s.Pool.QueryRow(ctx,
		`SELECT owner_id, name, lat, lon, created_at FROM sensor WHERE id = $1`, id,
	).Scan(&sensor.OwnerID, &sensor.Name, &sensor.Lat, &sensor.Lon, &sensor.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sensor %s: %w", id, err)
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT name, value_type, unit, ingest_mode FROM sensor_column WHERE sensor_id = $1 ORDER BY ord`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list sensor columns %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col Column
		var vt, mode string
		if err := rows.Scan(&col.Name, &vt, &col.Unit, &mode); err != nil {
			return nil, fmt.Errorf("scan sensor column: %w", err)
		}
		col.ValueType = ValueType(vt)
		col.IngestMode = IngestMode(mode)
		sensor.Columns = append(sensor.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sensor columns %s: %w", id, err)
	}

	return &sensor, nil
}

// ListSensorsOwnedBy returns the ids of every sensor owned by userID,
// used to drive cache.purge_sensors_owned_by on user mutation.
func (s *Store) ListSensorsOwnedBy(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id FROM sensor WHERE owner_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sensors owned by %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sensor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSensor drops the sensor's metadata rows and its backing table.
func (s *Store) DeleteSensor(ctx context.Context, id string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sensor WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete sensor %s: %w", id, err)
	}

	table := quoteIdentifier(sensorTableName(id))
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("drop backing table for sensor %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

// UpdateSensor updates a sensor's mutable metadata (name and
// position). Columns are immutable after creation per the data model.
func (s *Store) UpdateSensor(ctx context.Context, id, name string, lat, lon *float64) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sensor SET name = $2, lat = $3, lon = $4 WHERE id = $1`, id, name, lat, lon,
	)
	if err != nil {
		return fmt.Errorf("update sensor %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
