package sensor

import (
	"encoding/json"
	"net/http"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// sessionCookie is the cookie name carrying the opaque session token,
// kept consistent with the "token" naming the system this was modeled
// on used for its bearer cookie/header.
const sessionCookie = "token"

// Routes registers every sensor/role/user/config management endpoint
// on mux.
func (svc *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", svc.handleRegister)
	mux.HandleFunc("POST /api/auth/login", svc.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", svc.handleLogout)

	mux.HandleFunc("POST /api/sensors", svc.handleCreateSensor)
	mux.HandleFunc("GET /api/sensors/{id}", svc.handleGetSensor)
	mux.HandleFunc("PUT /api/sensors/{id}", svc.handleUpdateSensor)
	mux.HandleFunc("DELETE /api/sensors/{id}", svc.handleDeleteSensor)
	mux.HandleFunc("PUT /api/sensors/{id}/permissions/{role}", svc.handleSetPermission)

	mux.HandleFunc("POST /api/sensors/{id}/keys", svc.handleCreateApiKey)
	mux.HandleFunc("DELETE /api/keys/{id}", svc.handleDeleteApiKey)

	mux.HandleFunc("POST /api/data_transformer", svc.handleCreateTransformer)
	mux.HandleFunc("GET /api/data_transformer/{id}", svc.handleGetTransformer)
	mux.HandleFunc("PUT /api/data_transformer/{id}", svc.handleUpdateTransformer)
	mux.HandleFunc("DELETE /api/data_transformer/{id}", svc.handleDeleteTransformer)

	mux.HandleFunc("POST /api/event_handler", svc.handleCreateEventHandler)
	mux.HandleFunc("GET /api/event_handler/{id}", svc.handleGetEventHandler)
	mux.HandleFunc("DELETE /api/event_handler/{id}", svc.handleDeleteEventHandler)

	mux.HandleFunc("PUT /api/sensors/{id}/data_chain", svc.handleSetDataChain)
	mux.HandleFunc("DELETE /api/sensors/{id}/data_chain", svc.handleDeleteDataChain)
	mux.HandleFunc("POST /api/sensors/{id}/outbound_routes", svc.handleAddOutboundRoute)
	mux.HandleFunc("DELETE /api/sensors/{id}/outbound_routes/{route_id}", svc.handleRemoveOutboundRoute)

	mux.HandleFunc("POST /api/users/{id}/role/{role_id}", svc.handleAddUserRole)
	mux.HandleFunc("DELETE /api/users/{id}/role/{role_id}", svc.handleRemoveUserRole)
}

// callerFromRequest resolves the session cookie into a Caller; an
// absent or invalid cookie resolves to the anonymous Caller, which is
// not itself an error — individual handlers decide whether anonymous
// access is sufficient.
func (svc *Service) callerFromRequest(r *http.Request) (permission.Caller, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return permission.Caller{}, nil
	}
	return svc.ResolveCaller(r.Context(), cookie.Value)
}

func (svc *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := svc.Register(r.Context(), req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": user.ID, "name": user.Name})
}

func (svc *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := svc.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(svc.SessionTTL.Seconds()),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil {
		_ = svc.Logout(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Name    string         `json:"name"`
		Lat     *float64       `json:"lat"`
		Lon     *float64       `json:"lon"`
		Columns []store.Column `json:"columns"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sensor, err := svc.CreateSensor(r.Context(), caller, req.Name, req.Lat, req.Lon, req.Columns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (svc *Service) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sensor, err := svc.GetSensor(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (svc *Service) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Name string   `json:"name"`
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := svc.UpdateSensor(r.Context(), caller, r.PathValue("id"), req.Name, req.Lat, req.Lon); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := svc.DeleteSensor(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Info  bool `json:"info"`
		Read  bool `json:"read"`
		Write bool `json:"write"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	role, err := svc.Cache.GetRoleByName(r.Context(), r.PathValue("role"))
	if err != nil {
		writeError(w, translateLookupErr(err))
		return
	}

	if err := svc.SetPermission(r.Context(), caller, r.PathValue("id"), role.ID, req.Info, req.Read, req.Write); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleCreateApiKey(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Operation string `json:"operation"`
		Name      string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := svc.CreateApiKey(r.Context(), caller, r.PathValue("id"), store.ApiKeyOperation(req.Operation), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (svc *Service) handleDeleteApiKey(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := svc.DeleteApiKey(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleCreateTransformer(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name   string `json:"name"`
		Script string `json:"script"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := svc.CreateTransformer(r.Context(), caller, req.Name, req.Script)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (svc *Service) handleGetTransformer(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := svc.GetTransformer(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (svc *Service) handleUpdateTransformer(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		Script      string `json:"script"`
		OtelContext string `json:"otel_context"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	newID, err := svc.UpdateTransformer(r.Context(), caller, r.PathValue("id"), req.Name, req.Script, req.OtelContext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": newID})
}

func (svc *Service) handleDeleteTransformer(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := svc.DeleteTransformer(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleCreateEventHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name   string `json:"name"`
		Filter string `json:"filter"`
		URL    string `json:"url"`
		Method string `json:"method"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h, err := svc.CreateEventHandler(r.Context(), caller, req.Name, req.Filter, req.URL, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (svc *Service) handleGetEventHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := svc.GetEventHandler(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (svc *Service) handleDeleteEventHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		OtelContext string `json:"otel_context"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := svc.DeleteEventHandler(r.Context(), caller, r.PathValue("id"), req.OtelContext); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleSetDataChain(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		InboundTransformerID *string `json:"inbound_transformer_id"`
		OtelContext          string  `json:"otel_context"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := svc.SetDataChain(r.Context(), caller, r.PathValue("id"), req.InboundTransformerID, req.OtelContext); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleDeleteDataChain(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		OtelContext string `json:"otel_context"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := svc.DeleteDataChain(r.Context(), caller, r.PathValue("id"), req.OtelContext); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleAddOutboundRoute(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		TransformerID *string `json:"transformer_id"`
		HandlerID     string  `json:"handler_id"`
		OtelContext   string  `json:"otel_context"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	route, err := svc.AddOutboundRoute(r.Context(), caller, r.PathValue("id"), req.TransformerID, req.HandlerID, req.OtelContext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (svc *Service) handleRemoveOutboundRoute(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		OtelContext string `json:"otel_context"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := svc.RemoveOutboundRoute(r.Context(), caller, r.PathValue("id"), r.PathValue("route_id"), req.OtelContext); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleAddUserRole(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := svc.AddUserRole(r.Context(), caller, r.PathValue("id"), r.PathValue("role_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleRemoveUserRole(w http.ResponseWriter, r *http.Request) {
	caller, err := svc.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := svc.RemoveUserRole(r.Context(), caller, r.PathValue("id"), r.PathValue("role_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperror.Validation("malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal("unexpected error", err)
	}
	writeJSON(w, appErr.Status(), map[string]string{"error": appErr.Msg})
}
