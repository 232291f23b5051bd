// Package ingest implements the common pipeline shared by the HTTP and
// MQTT front doors: authorise, optionally transform, persist.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/cache"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
	"github.com/dbis-ilm/sensbee/internal/tsfmt"
)

// transformer is the subset of *transform.Broker the pipeline depends
// on; declaring it here lets tests exercise the pipeline against a
// fake without a live WebSocket.
type transformer interface {
	GetTransformed(ctx context.Context, scriptID string, body []byte) ([]byte, error)
}

// Result is the outcome of one Ingest call.
type Result struct {
	Inserted bool
}

// Service wires the pipeline's collaborators.
type Service struct {
	Store  *store.Store
	Cache  *cache.Cache
	Perm   *permission.Oracle
	Broker transformer
}

// New builds a Service.
func New(s *store.Store, c *cache.Cache, p *permission.Oracle, b transformer) *Service {
	return &Service{Store: s, Cache: c, Perm: p, Broker: b}
}

// Ingest runs the seven-step pipeline contract: authorise, reject an
// empty body, load the sensor, transform, reject an empty transform
// result, persist, report.
func (svc *Service) Ingest(ctx context.Context, sensorID string, apiKey *string, body []byte) (Result, error) {
	if err := svc.authoriseWrite(ctx, sensorID, apiKey); err != nil {
		return Result{}, err
	}

	if len(body) == 0 {
		return Result{}, apperror.Internal("missing data to insert", nil)
	}

	sensor, err := svc.Cache.GetSensorByID(ctx, sensorID)
	if err != nil {
		return Result{}, apperror.Internal("load sensor", err)
	}

	transformed := body
	if svc.Broker != nil {
		inboundID, err := svc.Store.GetInboundTransformer(ctx, sensorID)
		if err != nil {
			return Result{}, apperror.Internal("load data chain", err)
		}
		if inboundID != "" {
			transformed, err = svc.Broker.GetTransformed(ctx, inboundID, body)
			if err != nil {
				return Result{}, apperror.Internal("transform ingest body", err)
			}
		}
	}

	var tuples []map[string]json.RawMessage
	if err := json.Unmarshal(transformed, &tuples); err != nil {
		return Result{}, apperror.Validation("ingest body must be a JSON array of tuples")
	}
	if len(tuples) == 0 {
		return Result{Inserted: false}, nil
	}

	rows := make([]store.Row, 0, len(tuples))
	for _, tuple := range tuples {
		row, err := buildRow(sensor.Columns, tuple)
		if err != nil {
			return Result{}, err
		}
		rows = append(rows, row)
	}

	if err := svc.Store.InsertRows(ctx, sensorID, sensor.Columns, rows); err != nil {
		if errors.Is(err, store.ErrNoRowsInserted) {
			return Result{Inserted: false}, nil
		}
		return Result{}, apperror.Database("insert rows", err)
	}
	return Result{Inserted: true}, nil
}

// buildRow binds one declared column per coerced input value, or NULL
// when the value is absent or fails to coerce to the declared type.
// At least one declared column must appear in the input row, present
// or not after coercion — a row naming no declared column at all
// breaks the invariant and fails the whole call.
func buildRow(columns []store.Column, tuple map[string]json.RawMessage) (store.Row, error) {
	row := store.Row{Values: make(map[string]any, len(columns))}

	present := false
	for _, col := range columns {
		raw, ok := tuple[col.Name]
		if !ok {
			continue
		}
		present = true
		row.Values[col.Name] = coerce(col.ValueType, raw)
	}
	if !present {
		return store.Row{}, apperror.Internal("row has no declared column", nil)
	}

	if raw, ok := tuple["timestamp"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := tsfmt.Parse(s); err == nil {
				row.CreatedAt = &t
			}
		}
	}
	return row, nil
}

func (svc *Service) authoriseWrite(ctx context.Context, sensorID string, apiKey *string) error {
	if apiKey != nil && *apiKey != "" {
		key, err := svc.Cache.GetApiKeyByID(ctx, *apiKey)
		if err != nil || !permission.CheckApiKey(key, sensorID, store.ApiKeyWrite) {
			return apperror.Unauthorized("invalid or insufficient api key")
		}
		return nil
	}

	perms, err := svc.Perm.UserSensorPerms(ctx, permission.Caller{}, sensorID)
	if err != nil {
		return apperror.Internal("resolve guest permission", err)
	}
	return permission.Require(perms, permission.Write, "write access required")
}

// TimeBound is one open end of a delete-range interval.
type TimeBound struct {
	Value     time.Time
	Inclusive bool
}

// DeleteData authorises and deletes the requested timestamp range.
func (svc *Service) DeleteData(ctx context.Context, caller permission.Caller, sensorID string, apiKey *string, from, to *TimeBound, purge bool) (int64, error) {
	if err := svc.authoriseDelete(ctx, caller, sensorID, apiKey); err != nil {
		return 0, err
	}

	var fromT, toT *time.Time
	var fromIncl, toIncl bool
	if from != nil {
		fromT = &from.Value
		fromIncl = from.Inclusive
	}
	if to != nil {
		toT = &to.Value
		toIncl = to.Inclusive
	}

	n, err := svc.Store.DeleteRange(ctx, sensorID, fromT, toT, fromIncl, toIncl, purge)
	if err != nil {
		return 0, apperror.Database("delete range", err)
	}
	return n, nil
}

// LoadData authorises and runs a validated load query.
func (svc *Service) LoadData(ctx context.Context, caller permission.Caller, sensorID string, apiKey *string, q store.LoadQuery) ([]map[string]any, error) {
	if err := svc.authoriseRead(ctx, caller, sensorID, apiKey); err != nil {
		return nil, err
	}

	sensor, err := svc.Cache.GetSensorByID(ctx, sensorID)
	if err != nil {
		return nil, apperror.Internal("load sensor", err)
	}

	rows, err := svc.Store.LoadRows(ctx, sensorID, sensor.Columns, q)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("load query: %v", err))
	}
	return rows, nil
}

func (svc *Service) authoriseDelete(ctx context.Context, caller permission.Caller, sensorID string, apiKey *string) error {
	if apiKey != nil && *apiKey != "" {
		key, err := svc.Cache.GetApiKeyByID(ctx, *apiKey)
		if err != nil || !permission.CheckApiKey(key, sensorID, store.ApiKeyWrite) {
			return apperror.Unauthorized("invalid or insufficient api key")
		}
		return nil
	}

	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return apperror.Internal("resolve permission", err)
	}
	return permission.Require(perms, permission.Delete, "delete access required")
}

func (svc *Service) authoriseRead(ctx context.Context, caller permission.Caller, sensorID string, apiKey *string) error {
	if apiKey != nil && *apiKey != "" {
		key, err := svc.Cache.GetApiKeyByID(ctx, *apiKey)
		if err != nil || !permission.CheckApiKey(key, sensorID, store.ApiKeyRead) {
			return apperror.Unauthorized("invalid or insufficient api key")
		}
		return nil
	}

	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return apperror.Internal("resolve permission", err)
	}
	return permission.Require(perms, permission.Read, "read access required")
}
