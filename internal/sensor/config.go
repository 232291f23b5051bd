package sensor

import (
	"context"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// CreateTransformer registers a new transformer script. Any
// authenticated user may create one.
func (svc *Service) CreateTransformer(ctx context.Context, caller permission.Caller, name, script string) (*store.DataTransformer, error) {
	if caller.Anonymous() {
		return nil, apperror.Unauthorized("must be authenticated to create a transformer")
	}
	t := store.DataTransformer{ID: id.New(), Name: name, Script: script, Version: 1}
	if err := svc.Store.CreateTransformer(ctx, t.ID, t.Name, t.Script); err != nil {
		return nil, apperror.Database("create transformer", err)
	}
	return &t, nil
}

// GetTransformer loads a transformer by id. Any authenticated user may
// read one.
func (svc *Service) GetTransformer(ctx context.Context, caller permission.Caller, transformerID string) (*store.DataTransformer, error) {
	if caller.Anonymous() {
		return nil, apperror.Unauthorized("must be authenticated")
	}
	t, err := svc.Store.GetTransformer(ctx, transformerID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	return t, nil
}

// UpdateTransformer allocates a new content-addressed id for the
// edited script body, leaving oldID still serving the previous one.
func (svc *Service) UpdateTransformer(ctx context.Context, caller permission.Caller, oldID, name, script, otelContext string) (string, error) {
	if caller.Anonymous() {
		return "", apperror.Unauthorized("must be authenticated to update a transformer")
	}
	newID := id.New()
	if err := svc.Store.UpdateTransformer(ctx, newID, oldID, name, script, otelContext); err != nil {
		return "", translateLookupErr(err)
	}
	return newID, nil
}

// DeleteTransformer removes a transformer row.
func (svc *Service) DeleteTransformer(ctx context.Context, caller permission.Caller, transformerID string) error {
	if caller.Anonymous() {
		return apperror.Unauthorized("must be authenticated to delete a transformer")
	}
	if err := svc.Store.DeleteTransformer(ctx, transformerID); err != nil {
		return apperror.Database("delete transformer", err)
	}
	return nil
}

// CreateEventHandler registers a new webhook handler.
func (svc *Service) CreateEventHandler(ctx context.Context, caller permission.Caller, name, filter, url, method string) (*store.EventHandler, error) {
	if caller.Anonymous() {
		return nil, apperror.Unauthorized("must be authenticated to create an event handler")
	}
	h := store.EventHandler{ID: id.New(), Name: name, Filter: filter, URL: url, Method: method}
	if err := svc.Store.CreateEventHandler(ctx, h); err != nil {
		return nil, apperror.Database("create event handler", err)
	}
	return &h, nil
}

// GetEventHandler loads a handler by id.
func (svc *Service) GetEventHandler(ctx context.Context, caller permission.Caller, handlerID string) (*store.EventHandler, error) {
	if caller.Anonymous() {
		return nil, apperror.Unauthorized("must be authenticated")
	}
	h, err := svc.Store.GetEventHandler(ctx, handlerID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	return h, nil
}

// DeleteEventHandler removes a handler and its cascaded routes,
// notifying the outbound engine.
func (svc *Service) DeleteEventHandler(ctx context.Context, caller permission.Caller, handlerID, otelContext string) error {
	if caller.Anonymous() {
		return apperror.Unauthorized("must be authenticated to delete an event handler")
	}
	if err := svc.Store.DeleteEventHandler(ctx, handlerID, otelContext); err != nil {
		return translateLookupErr(err)
	}
	return nil
}

// SetDataChain sets sensorID's inbound transformer, requiring Edit.
func (svc *Service) SetDataChain(ctx context.Context, caller permission.Caller, sensorID string, inboundTransformerID *string, otelContext string) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor's data chain"); err != nil {
		return err
	}
	if err := svc.Store.SetDataChain(ctx, sensorID, inboundTransformerID, otelContext); err != nil {
		return apperror.Database("set data chain", err)
	}
	return nil
}

// DeleteDataChain clears sensorID's inbound transformer, requiring Edit.
func (svc *Service) DeleteDataChain(ctx context.Context, caller permission.Caller, sensorID, otelContext string) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor's data chain"); err != nil {
		return err
	}
	if err := svc.Store.DeleteDataChain(ctx, sensorID, otelContext); err != nil {
		return apperror.Database("delete data chain", err)
	}
	return nil
}

// AddOutboundRoute links a handler (and optional transformer) into
// sensorID's outbound data chain, requiring Edit.
func (svc *Service) AddOutboundRoute(ctx context.Context, caller permission.Caller, sensorID string, transformerID *string, handlerID, otelContext string) (*store.OutboundRoute, error) {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor's outbound routes"); err != nil {
		return nil, err
	}
	route := store.OutboundRoute{ID: id.New(), SensorID: sensorID, TransformerID: transformerID, HandlerID: handlerID}
	if err := svc.Store.AddOutboundRoute(ctx, route, otelContext); err != nil {
		return nil, apperror.Database("add outbound route", err)
	}
	return &route, nil
}

// RemoveOutboundRoute unlinks one outbound route, requiring Edit on
// its sensor.
func (svc *Service) RemoveOutboundRoute(ctx context.Context, caller permission.Caller, sensorID, routeID, otelContext string) error {
	perms, err := svc.Perm.UserSensorPerms(ctx, caller, sensorID)
	if err != nil {
		return translateLookupErr(err)
	}
	if err := permission.Require(perms, permission.Edit, "not authorised to edit this sensor's outbound routes"); err != nil {
		return err
	}
	if err := svc.Store.RemoveOutboundRoute(ctx, routeID, otelContext); err != nil {
		return apperror.Database("remove outbound route", err)
	}
	return nil
}

// AddUserRole binds roleID to userID. Only admins may assign roles,
// mirroring the reference implementation's admin-only role endpoint;
// system roles other than ADMIN cannot be granted through this call.
func (svc *Service) AddUserRole(ctx context.Context, caller permission.Caller, userID, roleID string) error {
	if !caller.IsAdmin {
		return apperror.Unauthorized("only admins may assign roles")
	}
	role, err := svc.Store.GetRoleByID(ctx, roleID)
	if err != nil {
		return translateLookupErr(err)
	}
	if role.Name != store.RoleAdmin {
		for _, systemRole := range []string{store.RoleUser, store.RoleGuest, store.RoleRoot} {
			if role.Name == systemRole {
				return apperror.Unauthorized("only the admin system role can be assigned")
			}
		}
	}
	if err := svc.Store.AddUserRole(ctx, userID, roleID); err != nil {
		return apperror.Database("add user role", err)
	}
	return nil
}

// RemoveUserRole unbinds roleID from userID. Only admins may revoke
// roles.
func (svc *Service) RemoveUserRole(ctx context.Context, caller permission.Caller, userID, roleID string) error {
	if !caller.IsAdmin {
		return apperror.Unauthorized("only admins may revoke roles")
	}
	if err := svc.Store.RemoveUserRole(ctx, userID, roleID); err != nil {
		return apperror.Database("remove user role", err)
	}
	return nil
}
