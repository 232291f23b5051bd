package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Row is one record destined for a sensor's backing table. Values
// holds already-coerced scalars keyed by declared column name;
// coercion-failure-to-NULL handling happens upstream of the store
// layer. CreatedAt is nil when the caller supplied no timestamp, in
// which case the database default (now()) applies.
type Row struct {
	Values    map[string]any
	CreatedAt *time.Time
}

// ErrNoRowsInserted is returned when InsertRows is given an empty batch
// or its insert affects no rows, satisfying the ingest atomicity
// invariant: a call either inserts >=1 row or none at all.
var ErrNoRowsInserted = errors.New("no rows inserted")

// InsertRows inserts rows into sensorID's backing table as one
// statement inside one transaction: either every row lands or none
// does, so a caller never observes a partial multi-row insert.
func (s *Store) InsertRows(ctx context.Context, sensorID string, columns []Column, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRowsInserted
	}

	table := quoteIdentifier(sensorTableName(sensorID))
	colNames := make([]string, len(columns))
	for i, c := range columns {
		colNames[i] = quoteIdentifier(c.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, created_at) VALUES ", table, strings.Join(colNames, ", "))

	args := make([]any, 0, len(rows)*(len(columns)+1))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			args = append(args, row.Values[col.Name])
			n++
		}
		fmt.Fprintf(&b, ", COALESCE($%d, now())", n)
		args = append(args, row.CreatedAt)
		n++
		b.WriteString(")")
	}

	tag, err := s.Pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("insert rows into %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsInserted
	}
	return nil
}

// DeleteRange deletes rows from sensorID's backing table whose
// created_at falls in the interval bounded by from/to. Per the
// bounds/purge contract, at least one of from, to or purge must be
// set — a caller asking to delete everything must say so explicitly.
func (s *Store) DeleteRange(ctx context.Context, sensorID string, from, to *time.Time, fromInclusive, toInclusive, purge bool) (int64, error) {
	if from == nil && to == nil && !purge {
		return 0, errors.New("delete range: from and to both unset requires purge=true")
	}

	table := quoteIdentifier(sensorTableName(sensorID))
	var where []string
	var args []any
	n := 1
	if from != nil {
		op := ">"
		if fromInclusive {
			op = ">="
		}
		where = append(where, fmt.Sprintf("created_at %s $%d", op, n))
		args = append(args, *from)
		n++
	}
	if to != nil {
		op := "<"
		if toInclusive {
			op = "<="
		}
		where = append(where, fmt.Sprintf("created_at %s $%d", op, n))
		args = append(args, *to)
		n++
	}

	query := "DELETE FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete range from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Aggregation is one of the aggregation functions allowed on a
// requested load column.
type Aggregation string

const (
	AggNone  Aggregation = ""
	AggMin   Aggregation = "MIN"
	AggMax   Aggregation = "MAX"
	AggSum   Aggregation = "SUM"
	AggAvg   Aggregation = "AVG"
	AggCount Aggregation = "COUNT"
)

// ColSpec is one requested load column, with its optional aggregation.
type ColSpec struct {
	Name string
	Agg  Aggregation
}

// LoadQuery describes a /data/load request against one sensor's
// backing table.
type LoadQuery struct {
	Cols         []ColSpec
	TimeGrouping *int // seconds; nil means no bucketing
	From, To     *time.Time
	Limit        int
	Ordering     string // "ASC" or "DESC"
	OrderCol     string
}

// ValidateLoadQuery enforces the aggregation constraint matrix: time
// bucketing and per-column aggregation are either both present or
// both absent, and a request may not mix aggregated with
// non-aggregated columns.
func ValidateLoadQuery(q LoadQuery, columns []Column) error {
	byName := make(map[string]Column, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}

	aggregated := 0
	for _, c := range q.Cols {
		col, ok := byName[c.Name]
		if !ok {
			return fmt.Errorf("unknown column %q", c.Name)
		}
		if c.Agg == AggNone {
			continue
		}
		aggregated++
		switch c.Agg {
		case AggSum, AggAvg:
			if col.ValueType != ValueTypeInt && col.ValueType != ValueTypeFloat {
				return fmt.Errorf("aggregation %s requires a numeric column, got %q", c.Agg, c.Name)
			}
		case AggMin, AggMax, AggCount:
			// any declared type is fine
		default:
			return fmt.Errorf("unknown aggregation %q", c.Agg)
		}
	}

	if q.TimeGrouping != nil && aggregated != len(q.Cols) {
		return errors.New("time_grouping requires every requested column to carry an aggregation")
	}
	if q.TimeGrouping == nil && aggregated > 0 {
		return errors.New("aggregated columns require time_grouping to be set")
	}
	if aggregated > 0 && aggregated != len(q.Cols) {
		return errors.New("cols may not mix aggregated and non-aggregated columns")
	}
	return nil
}

// LoadRows runs a validated LoadQuery against sensorID's backing
// table, returning one map per result row keyed by output column
// name ("bucket" for the time-grouping column, the requested name
// otherwise). A query with no Cols and no time grouping returns every
// declared column.
func (s *Store) LoadRows(ctx context.Context, sensorID string, columns []Column, q LoadQuery) ([]map[string]any, error) {
	if err := ValidateLoadQuery(q, columns); err != nil {
		return nil, fmt.Errorf("load query: %w", err)
	}
	if len(q.Cols) == 0 && q.TimeGrouping == nil {
		for _, c := range columns {
			q.Cols = append(q.Cols, ColSpec{Name: c.Name})
		}
	}

	table := quoteIdentifier(sensorTableName(sensorID))
	ordering := q.Ordering
	if ordering != "ASC" && ordering != "DESC" {
		ordering = "DESC"
	}

	var b strings.Builder
	var args []any
	n := 1

	outCols := make([]string, 0, len(q.Cols)+1)
	if q.TimeGrouping != nil {
		fmt.Fprintf(&b, "SELECT to_timestamp(floor(extract(epoch from created_at)/$%d)*$%d) AS bucket", n, n)
		args = append(args, *q.TimeGrouping)
		n++
		outCols = append(outCols, "bucket")
		for _, c := range q.Cols {
			fmt.Fprintf(&b, ", %s(%s) AS %s", string(c.Agg), quoteIdentifier(c.Name), quoteIdentifier(c.Name))
			outCols = append(outCols, c.Name)
		}
		fmt.Fprintf(&b, " FROM %s", table)
	} else {
		colNames := make([]string, len(q.Cols))
		for i, c := range q.Cols {
			colNames[i] = quoteIdentifier(c.Name)
			outCols = append(outCols, c.Name)
		}
		colNames = append(colNames, "created_at")
		outCols = append(outCols, "created_at")
		fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(colNames, ", "), table)
	}

	var where []string
	if q.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", n))
		args = append(args, *q.From)
		n++
	}
	if q.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", n))
		args = append(args, *q.To)
		n++
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	if q.TimeGrouping != nil {
		b.WriteString(" GROUP BY bucket")
		fmt.Fprintf(&b, " ORDER BY bucket %s", ordering)
	} else {
		orderCol := q.OrderCol
		if orderCol == "" {
			orderCol = "created_at"
		} else {
			if err := validateIdentifier(orderCol); err != nil {
				return nil, fmt.Errorf("load query: %w", err)
			}
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", quoteIdentifier(orderCol), ordering)
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", n)
		args = append(args, q.Limit)
		n++
	}

	rows, err := s.Pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("load rows from %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan load row: %w", err)
		}
		m := make(map[string]any, len(outCols))
		for i, name := range outCols {
			if i < len(vals) {
				m[name] = vals[i]
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
