// Package cache is a read-through in-memory layer in front of
// internal/store: four maps, keyed by id, that avoid a database round
// trip for repeatedly-looked-up rows (roles, users, sensors, API
// keys). The database is always the owner of truth; the cache never
// reconciles a stale entry on read, it's only ever purged on mutation.
package cache

import (
	"context"
	"sync"

	"github.com/dbis-ilm/sensbee/internal/store"
)

// loader is the subset of *store.Store the cache reads through to on
// a miss. Declaring it as an interface lets tests exercise purge and
// bypass behavior against a fake without a database.
type loader interface {
	GetRoleByName(ctx context.Context, name string) (*store.Role, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	GetSensor(ctx context.Context, id string) (*store.Sensor, error)
	GetApiKeyByID(ctx context.Context, id string) (*store.ApiKey, error)
}

// Cache holds four independently-locked maps. Disabled forces every
// Get to bypass the maps and hit the store directly — tests run with
// this set so cached state from one test can never leak into another.
type Cache struct {
	Disabled bool

	store loader

	rolesMu    sync.RWMutex
	roleByName map[string]store.Role

	usersMu  sync.RWMutex
	userByID map[string]store.User

	sensorsMu  sync.RWMutex
	sensorByID map[string]store.Sensor

	keysMu     sync.RWMutex
	apiKeyByID map[string]store.ApiKey
}

// New wraps s with an enabled, empty cache.
func New(s *store.Store) *Cache {
	return newCache(s)
}

func newCache(s loader) *Cache {
	return &Cache{
		store:      s,
		roleByName: make(map[string]store.Role),
		userByID:   make(map[string]store.User),
		sensorByID: make(map[string]store.Sensor),
		apiKeyByID: make(map[string]store.ApiKey),
	}
}

// GetRoleByName returns the role named name, reading through to the
// store on a cache miss.
func (c *Cache) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	if !c.Disabled {
		c.rolesMu.RLock()
		if r, ok := c.roleByName[name]; ok {
			c.rolesMu.RUnlock()
			return &r, nil
		}
		c.rolesMu.RUnlock()
	}

	r, err := c.store.GetRoleByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if !c.Disabled {
		c.rolesMu.Lock()
		c.roleByName[name] = *r
		c.rolesMu.Unlock()
	}
	return r, nil
}

// GetUserByID returns the user with id, reading through on a miss.
func (c *Cache) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	if !c.Disabled {
		c.usersMu.RLock()
		if u, ok := c.userByID[id]; ok {
			c.usersMu.RUnlock()
			return &u, nil
		}
		c.usersMu.RUnlock()
	}

	u, err := c.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !c.Disabled {
		c.usersMu.Lock()
		c.userByID[id] = *u
		c.usersMu.Unlock()
	}
	return u, nil
}

// GetSensorByID returns the sensor with id, reading through on a miss.
func (c *Cache) GetSensorByID(ctx context.Context, id string) (*store.Sensor, error) {
	if !c.Disabled {
		c.sensorsMu.RLock()
		if s, ok := c.sensorByID[id]; ok {
			c.sensorsMu.RUnlock()
			return &s, nil
		}
		c.sensorsMu.RUnlock()
	}

	s, err := c.store.GetSensor(ctx, id)
	if err != nil {
		return nil, err
	}

	if !c.Disabled {
		c.sensorsMu.Lock()
		c.sensorByID[id] = *s
		c.sensorsMu.Unlock()
	}
	return s, nil
}

// GetApiKeyByID returns the API key with id, reading through on a miss.
func (c *Cache) GetApiKeyByID(ctx context.Context, id string) (*store.ApiKey, error) {
	if !c.Disabled {
		c.keysMu.RLock()
		if k, ok := c.apiKeyByID[id]; ok {
			c.keysMu.RUnlock()
			return &k, nil
		}
		c.keysMu.RUnlock()
	}

	k, err := c.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !c.Disabled {
		c.keysMu.Lock()
		c.apiKeyByID[id] = *k
		c.keysMu.Unlock()
	}
	return k, nil
}

// PurgeUser evicts user id. Callers mutating a user must purge before
// returning success.
func (c *Cache) PurgeUser(id string) {
	c.usersMu.Lock()
	delete(c.userByID, id)
	c.usersMu.Unlock()
}

// PurgeSensor evicts sensor id.
func (c *Cache) PurgeSensor(id string) {
	c.sensorsMu.Lock()
	delete(c.sensorByID, id)
	c.sensorsMu.Unlock()
}

// PurgeApiKey evicts API key id.
func (c *Cache) PurgeApiKey(id string) {
	c.keysMu.Lock()
	delete(c.apiKeyByID, id)
	c.keysMu.Unlock()
}

// PurgeApiKeysForUser evicts every cached API key owned by userID.
// There's no secondary index by owner, so this scans the map — cache
// sizes are small enough (a deployment's active key count) that this
// is cheaper than round-tripping to the store to ask which keys exist.
func (c *Cache) PurgeApiKeysForUser(userID string) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	for id, k := range c.apiKeyByID {
		if k.UserID == userID {
			delete(c.apiKeyByID, id)
		}
	}
}

// PurgeApiKeysForSensor evicts every cached API key issued against sensorID.
func (c *Cache) PurgeApiKeysForSensor(sensorID string) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	for id, k := range c.apiKeyByID {
		if k.SensorID == sensorID {
			delete(c.apiKeyByID, id)
		}
	}
}

// PurgeSensorsOwnedBy evicts every cached sensor owned by userID.
func (c *Cache) PurgeSensorsOwnedBy(userID string) {
	c.sensorsMu.Lock()
	defer c.sensorsMu.Unlock()
	for id, s := range c.sensorByID {
		if s.OwnerID != nil && *s.OwnerID == userID {
			delete(c.sensorByID, id)
		}
	}
}

// PurgeAll drops every cached entry in all four maps.
func (c *Cache) PurgeAll() {
	c.rolesMu.Lock()
	c.roleByName = make(map[string]store.Role)
	c.rolesMu.Unlock()

	c.usersMu.Lock()
	c.userByID = make(map[string]store.User)
	c.usersMu.Unlock()

	c.sensorsMu.Lock()
	c.sensorByID = make(map[string]store.Sensor)
	c.sensorsMu.Unlock()

	c.keysMu.Lock()
	c.apiKeyByID = make(map[string]store.ApiKey)
	c.keysMu.Unlock()
}
