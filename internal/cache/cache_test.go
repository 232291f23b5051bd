package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/store"
)

// fakeLoader counts calls per entity so tests can assert whether a
// Get hit the cache or read through.
type fakeLoader struct {
	roles   map[string]store.Role
	users   map[string]store.User
	sensors map[string]store.Sensor
	keys    map[string]store.ApiKey

	roleCalls, userCalls, sensorCalls, keyCalls int
}

func (f *fakeLoader) GetRoleByName(_ context.Context, name string) (*store.Role, error) {
	f.roleCalls++
	r, ok := f.roles[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeLoader) GetUserByID(_ context.Context, id string) (*store.User, error) {
	f.userCalls++
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (f *fakeLoader) GetSensor(_ context.Context, id string) (*store.Sensor, error) {
	f.sensorCalls++
	s, ok := f.sensors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (f *fakeLoader) GetApiKeyByID(_ context.Context, id string) (*store.ApiKey, error) {
	f.keyCalls++
	k, ok := f.keys[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &k, nil
}

func TestGetSensorByID_ReadsThroughOnceThenCaches(t *testing.T) {
	fl := &fakeLoader{sensors: map[string]store.Sensor{"s1": {ID: "s1", Name: "a"}}}
	c := newCache(fl)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s, err := c.GetSensorByID(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "a", s.Name)
	}
	assert.Equal(t, 1, fl.sensorCalls)
}

func TestGetSensorByID_PurgeForcesReload(t *testing.T) {
	fl := &fakeLoader{sensors: map[string]store.Sensor{"s1": {ID: "s1", Name: "a"}}}
	c := newCache(fl)
	ctx := context.Background()

	_, err := c.GetSensorByID(ctx, "s1")
	require.NoError(t, err)

	fl.sensors["s1"] = store.Sensor{ID: "s1", Name: "b"}
	c.PurgeSensor("s1")

	s, err := c.GetSensorByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", s.Name)
	assert.Equal(t, 2, fl.sensorCalls)
}

func TestDisabled_AlwaysReadsThrough(t *testing.T) {
	fl := &fakeLoader{users: map[string]store.User{"u1": {ID: "u1", Name: "alice"}}}
	c := newCache(fl)
	c.Disabled = true

	ctx := context.Background()
	_, err := c.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	_, err = c.GetUserByID(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, fl.userCalls)
}

func TestPurgeApiKeysForUser_ScansByOwner(t *testing.T) {
	fl := &fakeLoader{keys: map[string]store.ApiKey{
		"k1": {ID: "k1", UserID: "alice", SensorID: "s1"},
		"k2": {ID: "k2", UserID: "bob", SensorID: "s1"},
	}}
	c := newCache(fl)
	ctx := context.Background()

	_, err := c.GetApiKeyByID(ctx, "k1")
	require.NoError(t, err)
	_, err = c.GetApiKeyByID(ctx, "k2")
	require.NoError(t, err)

	c.PurgeApiKeysForUser("alice")

	c.keysMu.RLock()
	_, k1Cached := c.apiKeyByID["k1"]
	_, k2Cached := c.apiKeyByID["k2"]
	c.keysMu.RUnlock()

	assert.False(t, k1Cached)
	assert.True(t, k2Cached)
}

func TestPurgeSensorsOwnedBy_ScansByOwner(t *testing.T) {
	owner := "alice"
	other := "bob"
	fl := &fakeLoader{sensors: map[string]store.Sensor{
		"s1": {ID: "s1", OwnerID: &owner},
		"s2": {ID: "s2", OwnerID: &other},
	}}
	c := newCache(fl)
	ctx := context.Background()

	_, err := c.GetSensorByID(ctx, "s1")
	require.NoError(t, err)
	_, err = c.GetSensorByID(ctx, "s2")
	require.NoError(t, err)

	c.PurgeSensorsOwnedBy("alice")

	c.sensorsMu.RLock()
	_, s1Cached := c.sensorByID["s1"]
	_, s2Cached := c.sensorByID["s2"]
	c.sensorsMu.RUnlock()

	assert.False(t, s1Cached)
	assert.True(t, s2Cached)
}

func TestPurgeAll_ClearsEveryMap(t *testing.T) {
	fl := &fakeLoader{
		roles:   map[string]store.Role{"ADMIN": {ID: "r1", Name: "ADMIN"}},
		users:   map[string]store.User{"u1": {ID: "u1"}},
		sensors: map[string]store.Sensor{"s1": {ID: "s1"}},
		keys:    map[string]store.ApiKey{"k1": {ID: "k1"}},
	}
	c := newCache(fl)
	ctx := context.Background()

	_, _ = c.GetRoleByName(ctx, "ADMIN")
	_, _ = c.GetUserByID(ctx, "u1")
	_, _ = c.GetSensorByID(ctx, "s1")
	_, _ = c.GetApiKeyByID(ctx, "k1")

	c.PurgeAll()

	_, err := c.GetRoleByName(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, 2, fl.roleCalls)
}
