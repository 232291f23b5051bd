package ingest_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/cache"
	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/ingest"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

func testService(t *testing.T) (*ingest.Service, permission.Caller) {
	t.Helper()
	dsn := os.Getenv("SENSBEE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SENSBEE_TEST_DATABASE_URL not set")
	}
	require.NoError(t, store.Migrate(dsn))

	s, err := store.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	c := cache.New(s)
	c.Disabled = true
	perm := permission.New(c, s)

	ctx := context.Background()
	ownerID := id.New()
	require.NoError(t, s.CreateUser(ctx, ownerID, "ingest-owner", "x"))

	return ingest.New(s, c, perm, nil), permission.Caller{UserID: ownerID}
}

func createSensor(t *testing.T, s *store.Store, owner string, columns []store.Column) string {
	t.Helper()
	sensorID := id.New()
	err := s.CreateSensor(context.Background(), store.Sensor{
		ID:      sensorID,
		OwnerID: &owner,
		Name:    t.Name(),
		Columns: columns,
	})
	require.NoError(t, err)
	return sensorID
}

func TestIngest_WriteWithKeyReadBack(t *testing.T) {
	svc, caller := testService(t)
	ctx := context.Background()

	sensorID := createSensor(t, svc.Store, caller.UserID, []store.Column{
		{Name: "col1", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral},
		{Name: "col2", ValueType: store.ValueTypeFloat, IngestMode: store.IngestModeLiteral},
		{Name: "col3", ValueType: store.ValueTypeString, IngestMode: store.IngestModeLiteral},
	})

	writeKey := store.ApiKey{ID: id.New(), SensorID: sensorID, UserID: caller.UserID, Operation: store.ApiKeyWrite, Name: "kw"}
	require.NoError(t, svc.Store.CreateApiKey(ctx, writeKey))
	readKey := store.ApiKey{ID: id.New(), SensorID: sensorID, UserID: caller.UserID, Operation: store.ApiKeyRead, Name: "kr"}
	require.NoError(t, svc.Store.CreateApiKey(ctx, readKey))

	kw := writeKey.ID
	res, err := svc.Ingest(ctx, sensorID, &kw, []byte(`[{"col1":42,"col2":56.789,"col3":"Hello"}]`))
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	kr := readKey.ID
	rows, err := svc.LoadData(ctx, permission.Caller{}, sensorID, &kr, store.LoadQuery{Limit: 1, Ordering: "DESC"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 42, rows[0]["col1"])
}

func TestIngest_AnonymousPartialCoercionNull(t *testing.T) {
	svc, caller := testService(t)
	ctx := context.Background()

	sensorID := createSensor(t, svc.Store, caller.UserID, []store.Column{
		{Name: "col1", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral},
		{Name: "col2", ValueType: store.ValueTypeFloat, IngestMode: store.IngestModeLiteral},
		{Name: "col3", ValueType: store.ValueTypeString, IngestMode: store.IngestModeLiteral},
	})

	guest, err := svc.Store.GetRoleByName(ctx, store.RoleGuest)
	require.NoError(t, err)
	require.NoError(t, svc.Store.SetSensorPermission(ctx, store.SensorPermission{
		SensorID: sensorID, RoleID: guest.ID, AllowInfo: true, AllowRead: true, AllowWrite: true,
	}))

	res, err := svc.Ingest(ctx, sensorID, nil, []byte(`[{"col1":"42","col2":"56.789","col3":"42"}]`))
	require.NoError(t, err)
	assert.True(t, res.Inserted)
}

func TestIngest_AllInvalidBatchRejected(t *testing.T) {
	svc, caller := testService(t)
	ctx := context.Background()

	sensorID := createSensor(t, svc.Store, caller.UserID, []store.Column{
		{Name: "col1", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral},
	})

	writeKey := store.ApiKey{ID: id.New(), SensorID: sensorID, UserID: caller.UserID, Operation: store.ApiKeyWrite, Name: "kw"}
	require.NoError(t, svc.Store.CreateApiKey(ctx, writeKey))
	kw := writeKey.ID

	_, err := svc.Ingest(ctx, sensorID, &kw, []byte(`[{"xz":1,"gg":2}]`))
	assert.Error(t, err)
}

func TestIngest_WrongKeyRejected(t *testing.T) {
	svc, caller := testService(t)
	ctx := context.Background()

	sensorID := createSensor(t, svc.Store, caller.UserID, []store.Column{
		{Name: "col1", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral},
	})
	other := createSensor(t, svc.Store, caller.UserID, []store.Column{
		{Name: "col1", ValueType: store.ValueTypeInt, IngestMode: store.IngestModeLiteral},
	})

	readKey := store.ApiKey{ID: id.New(), SensorID: other, UserID: caller.UserID, Operation: store.ApiKeyWrite, Name: "kr"}
	require.NoError(t, svc.Store.CreateApiKey(ctx, readKey))
	kr := readKey.ID

	_, err := svc.Ingest(ctx, sensorID, &kr, []byte(`[{"col1":1}]`))
	assert.Error(t, err)
}
