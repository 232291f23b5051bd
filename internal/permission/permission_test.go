package permission_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/cache"
	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// Permission evaluation is only meaningful against real role/sensor/
// permission rows, so these tests run as integration tests against a
// real instance, same as internal/store's, and skip without one.
func testOracle(t *testing.T) *permission.Oracle {
	t.Helper()
	dsn := os.Getenv("SENSBEE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SENSBEE_TEST_DATABASE_URL not set, skipping permission integration test")
	}
	require.NoError(t, store.Migrate(dsn))

	ctx := context.Background()
	s, err := store.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	c := cache.New(s)
	c.Disabled = true
	return permission.New(c, s)
}

func TestUserSensorPerms_AdminGetsAll(t *testing.T) {
	o := testOracle(t)
	ctx := context.Background()

	sensor := store.Sensor{ID: id.New(), Name: "s"}
	require.NoError(t, o.Store.CreateSensor(ctx, sensor))

	p, err := o.UserSensorPerms(ctx, permission.Caller{IsAdmin: true}, sensor.ID)
	require.NoError(t, err)
	assert.Equal(t, permission.All, p)
}

func TestUserSensorPerms_OwnerGetsAll(t *testing.T) {
	o := testOracle(t)
	ctx := context.Background()

	ownerID := id.New()
	require.NoError(t, o.Store.CreateUser(ctx, ownerID, "owner", "hash"))

	sensor := store.Sensor{ID: id.New(), OwnerID: &ownerID, Name: "s"}
	require.NoError(t, o.Store.CreateSensor(ctx, sensor))

	p, err := o.UserSensorPerms(ctx, permission.Caller{UserID: ownerID}, sensor.ID)
	require.NoError(t, err)
	assert.Equal(t, permission.All, p)
}

func TestUserSensorPerms_GuestBitsFromPermissionRow(t *testing.T) {
	o := testOracle(t)
	ctx := context.Background()

	sensor := store.Sensor{ID: id.New(), Name: "public"}
	require.NoError(t, o.Store.CreateSensor(ctx, sensor))

	guest, err := o.Store.GetRoleByName(ctx, store.RoleGuest)
	require.NoError(t, err)

	require.NoError(t, o.Store.SetSensorPermission(ctx, store.SensorPermission{
		SensorID: sensor.ID, RoleID: guest.ID, AllowInfo: true, AllowRead: true, AllowWrite: true,
	}))

	p, err := o.UserSensorPerms(ctx, permission.Caller{}, sensor.ID)
	require.NoError(t, err)
	assert.True(t, p.Has(permission.Info))
	assert.True(t, p.Has(permission.Read))
	assert.True(t, p.Has(permission.Write))
	assert.False(t, p.Has(permission.Edit))
	assert.False(t, p.Has(permission.Delete))
}

func TestUserSensorPerms_StrangerGetsNothingWithoutRow(t *testing.T) {
	o := testOracle(t)
	ctx := context.Background()

	otherID := id.New()
	require.NoError(t, o.Store.CreateUser(ctx, otherID, "stranger", "hash"))

	sensor := store.Sensor{ID: id.New(), Name: "private"}
	require.NoError(t, o.Store.CreateSensor(ctx, sensor))

	p, err := o.UserSensorPerms(ctx, permission.Caller{UserID: otherID}, sensor.ID)
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestCheckApiKey(t *testing.T) {
	key := &store.ApiKey{SensorID: "s1", Operation: store.ApiKeyWrite}
	assert.True(t, permission.CheckApiKey(key, "s1", store.ApiKeyWrite))
	assert.False(t, permission.CheckApiKey(key, "s1", store.ApiKeyRead))
	assert.False(t, permission.CheckApiKey(key, "s2", store.ApiKeyWrite))
}

func TestRequire(t *testing.T) {
	held := permission.Read | permission.Info
	assert.NoError(t, permission.Require(held, permission.Read, "need read"))

	err := permission.Require(held, permission.Write, "need write")
	require.Error(t, err)
}
