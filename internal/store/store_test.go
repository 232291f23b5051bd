package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// Postgres has no in-memory mode like the teacher's SQLite tests, so
// these tests run against a real instance named by
// SENSBEE_TEST_DATABASE_URL and skip entirely when it's unset.
func testStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("SENSBEE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SENSBEE_TEST_DATABASE_URL not set, skipping store integration test")
	}

	require.NoError(t, store.Migrate(dsn))

	ctx := context.Background()
	s, err := store.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := os.Getenv("SENSBEE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SENSBEE_TEST_DATABASE_URL not set, skipping store integration test")
	}
	require.NoError(t, store.Migrate(dsn))
	require.NoError(t, store.Migrate(dsn))
}

func TestSensor_CreateGetUpdateDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sensor := store.Sensor{
		ID:   id.New(),
		Name: "weather-station",
		Columns: []store.Column{
			{Name: "temp", ValueType: store.ValueTypeFloat, IngestMode: store.IngestModeLiteral},
			{Name: "label", ValueType: store.ValueTypeString, IngestMode: store.IngestModeLiteral},
		},
	}
	require.NoError(t, s.CreateSensor(ctx, sensor))

	got, err := s.GetSensor(ctx, sensor.ID)
	require.NoError(t, err)
	assert.Equal(t, sensor.Name, got.Name)
	assert.Len(t, got.Columns, 2)

	lat := 52.5
	require.NoError(t, s.UpdateSensor(ctx, sensor.ID, "weather-station-2", &lat, nil))
	got, err = s.GetSensor(ctx, sensor.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather-station-2", got.Name)
	require.NotNil(t, got.Lat)
	assert.Equal(t, lat, *got.Lat)

	require.NoError(t, s.DeleteSensor(ctx, sensor.ID))
	_, err = s.GetSensor(ctx, sensor.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSensor_IncrementalIngest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sensor := store.Sensor{
		ID:   id.New(),
		Name: "counter",
		Columns: []store.Column{
			{Name: "total", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeIncremental},
		},
	}
	require.NoError(t, s.CreateSensor(ctx, sensor))

	for _, v := range []any{int64(1), int64(2), nil, int64(3)} {
		require.NoError(t, s.InsertRows(ctx, sensor.ID, sensor.Columns, []store.Row{
			{Values: map[string]any{"total": v}},
		}))
	}

	rows, err := s.LoadRows(ctx, sensor.ID, sensor.Columns, store.LoadQuery{
		Cols:     []store.ColSpec{{Name: "total"}},
		Ordering: "ASC",
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Running sum: 1, 3, 3 (NULL retains previous), 6.
	assert.EqualValues(t, 1, rows[0]["total"])
	assert.EqualValues(t, 3, rows[1]["total"])
	assert.EqualValues(t, 3, rows[2]["total"])
	assert.EqualValues(t, 6, rows[3]["total"])
}

func TestData_DeleteRangeRequiresPurge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sensor := store.Sensor{
		ID:      id.New(),
		Name:    "purge-test",
		Columns: []store.Column{{Name: "v", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral}},
	}
	require.NoError(t, s.CreateSensor(ctx, sensor))

	_, err := s.DeleteRange(ctx, sensor.ID, nil, nil, false, false, false)
	assert.Error(t, err)

	n, err := s.DeleteRange(ctx, sensor.ID, nil, nil, false, false, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestData_LoadQuery_RejectsMixedAggregation(t *testing.T) {
	columns := []store.Column{
		{Name: "a", ValueType: store.ValueTypeInt},
		{Name: "b", ValueType: store.ValueTypeInt},
	}

	err := store.ValidateLoadQuery(store.LoadQuery{
		Cols: []store.ColSpec{{Name: "a", Agg: store.AggSum}, {Name: "b"}},
	}, columns)
	assert.Error(t, err)

	grouping := 60
	err = store.ValidateLoadQuery(store.LoadQuery{
		Cols:         []store.ColSpec{{Name: "a"}},
		TimeGrouping: &grouping,
	}, columns)
	assert.Error(t, err)

	err = store.ValidateLoadQuery(store.LoadQuery{
		Cols:         []store.ColSpec{{Name: "a", Agg: store.AggSum}},
		TimeGrouping: &grouping,
	}, columns)
	assert.NoError(t, err)
}

func TestTransformer_UpdateAllocatesNewID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	oldID := id.New()
	require.NoError(t, s.CreateTransformer(ctx, oldID, "scale", "return x * 2"))

	newID := id.New()
	require.NoError(t, s.UpdateTransformer(ctx, newID, oldID, "scale-v2", "return x * 3", "ctx-1"))
	assert.NotEqual(t, oldID, newID)

	old, err := s.GetTransformer(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, "return x * 2", old.Script)

	updated, err := s.GetTransformer(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, "return x * 3", updated.Script)
	assert.Equal(t, old.Version+1, updated.Version)
}

func TestUser_SessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	userID := id.New()
	require.NoError(t, s.CreateUser(ctx, userID, "alice", "hash"))

	sessionID := id.Token()
	require.NoError(t, s.CreateSession(ctx, sessionID, userID, time.Minute))

	resolved, err := s.ResolveSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, userID, resolved)

	require.NoError(t, s.DeleteSession(ctx, sessionID))
	_, err = s.ResolveSession(ctx, sessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUser_SessionExpires(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	userID := id.New()
	require.NoError(t, s.CreateUser(ctx, userID, "bob", "hash"))

	sessionID := id.Token()
	require.NoError(t, s.CreateSession(ctx, sessionID, userID, -time.Second))

	_, err := s.ResolveSession(ctx, sessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDataChain_NotifiesListener(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	listener, err := s.NewListener(ctx)
	require.NoError(t, err)
	defer listener.Release()
	require.NoError(t, listener.Listen(ctx, "log_events_handler"))

	sensor := store.Sensor{ID: id.New(), Name: "notif-test"}
	require.NoError(t, s.CreateSensor(ctx, sensor))
	require.NoError(t, s.SetDataChain(ctx, sensor.ID, nil, "ctx-notify"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	notif, err := listener.WaitForNotification(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "log_events_handler", notif.Channel)
}
