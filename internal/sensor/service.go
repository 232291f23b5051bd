// Package sensor is the fat-service layer behind sensor, role, user,
// transformer, event-handler and data-chain management: it
// authorises every call against internal/permission, then issues the
// corresponding internal/store calls and fans the matching cache
// purges before returning success.
package sensor

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/cache"
	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// Service wires the store, cache and permission oracle together for
// every sensor/role/user/config management operation.
type Service struct {
	Store      *store.Store
	Cache      *cache.Cache
	Perm       *permission.Oracle
	SessionTTL time.Duration
}

// New builds a Service over s, using c as its read-through cache.
func New(s *store.Store, c *cache.Cache, sessionTTL time.Duration) *Service {
	return &Service{Store: s, Cache: c, Perm: permission.New(c, s), SessionTTL: sessionTTL}
}

// IsAdmin reports whether userID holds the ADMIN or ROOT role.
func (svc *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	roleIDs, err := svc.Store.ListRolesForUser(ctx, userID)
	if err != nil {
		return false, apperror.Database("list roles for user", err)
	}
	admin, err := svc.Cache.GetRoleByName(ctx, store.RoleAdmin)
	if err != nil {
		return false, apperror.Database("load admin role", err)
	}
	root, err := svc.Cache.GetRoleByName(ctx, store.RoleRoot)
	if err != nil {
		return false, apperror.Database("load root role", err)
	}
	for _, roleID := range roleIDs {
		if roleID == admin.ID || roleID == root.ID {
			return true, nil
		}
	}
	return false, nil
}

// CreateSensor registers a new sensor owned by caller. Any
// authenticated user may create a sensor.
func (svc *Service) CreateSensor(ctx context.Context, caller permission.Caller, name string, lat, lon *float64, columns []store.Column) (*store.Sensor, error) {
	if caller.Anonymous() {
		return nil, apperror.Unauthorized("must be authenticated to create a sensor")
	}
	sensor := store.Sensor{
		ID:      id.New(),
		OwnerID: &caller.UserID,
		Name:    name,
		Lat:     lat,
		Lon:     lon,
		Columns: columns,
	}
	if err := svc.Store.CreateSensor(ctx, sensor); err != nil {
		return nil, apperror.Database("create sensor", err)
	}
	return &sensor, nil
}

// GetSensor returns a sensor's metadata, requiring Info.
func (svc *Service) GetSensor(ctx context.Context, caller permission.Caller, sensorID string) (*store.Sensor, error) {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Info, "not authorised to view this sensor"); err != nil {
		return nil, err
	}
	return svc.Cache.GetSensorByID(ctx, sensorID)
}

// UpdateSensor edits a sensor's mutable metadata, requiring Edit, and
// purges the sensor from cache.
func (svc *Service) UpdateSensor(ctx context.Context, caller permission.Caller, sensorID, name string, lat, lon *float64) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor"); err != nil {
		return err
	}
	if err := svc.Store.UpdateSensor(ctx, sensorID, name, lat, lon); err != nil {
		return apperror.Database("update sensor", err)
	}
	svc.Cache.PurgeSensor(sensorID)
	return nil
}

// DeleteSensor removes a sensor and its backing table, requiring
// Delete, and purges every cache entry the deletion invalidates.
func (svc *Service) DeleteSensor(ctx context.Context, caller permission.Caller, sensorID string) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Delete, "not authorised to delete this sensor"); err != nil {
		return err
	}

	keyIDs, err := svc.Store.DeleteApiKeysForSensor(ctx, sensorID)
	if err != nil {
		return apperror.Database("delete api keys for sensor", err)
	}
	if err := svc.Store.DeleteSensor(ctx, sensorID); err != nil {
		return apperror.Database("delete sensor", err)
	}

	svc.Cache.PurgeSensor(sensorID)
	for _, k := range keyIDs {
		svc.Cache.PurgeApiKey(k)
	}
	return nil
}

// SetPermission upserts the permission bits a role holds on a sensor,
// requiring Edit.
func (svc *Service) SetPermission(ctx context.Context, caller permission.Caller, sensorID, roleID string, allowInfo, allowRead, allowWrite bool) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor's permissions"); err != nil {
		return err
	}
	if err := svc.Store.SetSensorPermission(ctx, store.SensorPermission{
		SensorID: sensorID, RoleID: roleID,
		AllowInfo: allowInfo, AllowRead: allowRead, AllowWrite: allowWrite,
	}); err != nil {
		return apperror.Database("set sensor permission", err)
	}
	return nil
}

// CreateApiKey issues a new API key for sensorID, requiring
// ApiKeyWrite.
func (svc *Service) CreateApiKey(ctx context.Context, caller permission.Caller, sensorID string, op store.ApiKeyOperation, name string) (*store.ApiKey, error) {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.ApiKeyWrite, "not authorised to issue keys for this sensor"); err != nil {
		return nil, err
	}

	key := store.ApiKey{ID: id.New(), SensorID: sensorID, UserID: caller.UserID, Operation: op, Name: name}
	if err := svc.Store.CreateApiKey(ctx, key); err != nil {
		return nil, apperror.Database("create api key", err)
	}
	return &key, nil
}

// DeleteApiKey revokes a single API key, requiring ApiKeyWrite on its
// sensor.
func (svc *Service) DeleteApiKey(ctx context.Context, caller permission.Caller, keyID string) error {
	key, err := svc.Cache.GetApiKeyByID(ctx, keyID)
	if err != nil {
		return translateLookupErr(err)
	}

	perms, err := svc.Perm.UserSensorPerms(ctx, caller, key.SensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.ApiKeyWrite, "not authorised to revoke keys for this sensor"); err != nil {
		return err
	}

	if err := svc.Store.DeleteApiKey(ctx, keyID); err != nil {
		return apperror.Database("delete api key", err)
	}
	svc.Cache.PurgeApiKey(keyID)
	return nil
}

// Register creates a new user account with the USER role. A name that
// is already taken is rejected.
func (svc *Service) Register(ctx context.Context, name, password string) (*store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Internal("hash password", err)
	}

	if _, err := svc.Store.GetUserByName(ctx, name); err == nil {
		return nil, apperror.Validation("user name already taken")
	} else if err != store.ErrNotFound {
		return nil, apperror.Database("load user", err)
	}

	userID := id.New()
	if err := svc.Store.CreateUser(ctx, userID, name, string(hash)); err != nil {
		return nil, apperror.Database("create user", err)
	}

	role, err := svc.Cache.GetRoleByName(ctx, store.RoleUser)
	if err != nil {
		return nil, apperror.Database("load user role", err)
	}
	if err := svc.Store.AddUserRole(ctx, userID, role.ID); err != nil {
		return nil, apperror.Database("bind user role", err)
	}

	return &store.User{ID: userID, Name: name}, nil
}

// Login validates credentials and issues a new session token.
func (svc *Service) Login(ctx context.Context, name, password string) (string, error) {
	user, err := svc.Store.GetUserByName(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return "", apperror.Unauthorized("invalid credentials")
		}
		return "", apperror.Database("load user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperror.Unauthorized("invalid credentials")
	}

	sessionID := id.Token()
	if err := svc.Store.CreateSession(ctx, sessionID, user.ID, svc.SessionTTL); err != nil {
		return "", apperror.Database("create session", err)
	}
	return sessionID, nil
}

// Logout revokes a session token.
func (svc *Service) Logout(ctx context.Context, sessionID string) error {
	if err := svc.Store.DeleteSession(ctx, sessionID); err != nil {
		return apperror.Database("delete session", err)
	}
	return nil
}

// ResolveCaller resolves a session token to a Caller, or the
// anonymous Caller if sessionID is empty or invalid.
func (svc *Service) ResolveCaller(ctx context.Context, sessionID string) (permission.Caller, error) {
	if sessionID == "" {
		return permission.Caller{}, nil
	}
	userID, err := svc.Store.ResolveSession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return permission.Caller{}, nil
		}
		return permission.Caller{}, apperror.Database("resolve session", err)
	}
	isAdmin, err := svc.IsAdmin(ctx, userID)
	if err != nil {
		return permission.Caller{}, err
	}
	return permission.Caller{UserID: userID, IsAdmin: isAdmin}, nil
}

// translateLookupErr maps a bare store.ErrNotFound (surfaced by the
// cache's read-through) to a 404 apperror; any other error is wrapped
// as a database failure.
func translateLookupErr(err error) error {
	if err == store.ErrNotFound {
		return apperror.NotFound("sensor not found")
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Database("lookup failed", err)
}
