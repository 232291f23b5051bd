package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
	"github.com/dbis-ilm/sensbee/internal/tsfmt"
)

const sessionCookie = "token"

// sessionResolver is the subset of *sensor.Service the HTTP layer
// needs for delete/load's cookie-based fallback path; declaring it as
// an interface avoids an import cycle with the sensor package.
type sessionResolver interface {
	ResolveCaller(ctx context.Context, sessionID string) (permission.Caller, error)
}

// Routes registers the data-plane endpoints on mux.
func Routes(mux *http.ServeMux, svc *Service, sessions sessionResolver) {
	h := &httpHandler{svc: svc, sessions: sessions}
	mux.HandleFunc("POST /api/sensors/{id}/data/ingest", h.handleIngest)
	mux.HandleFunc("DELETE /api/sensors/{id}/data/delete", h.handleDelete)
	mux.HandleFunc("GET /api/sensors/{id}/data/load", h.handleLoad)
}

type httpHandler struct {
	svc      *Service
	sessions sessionResolver
}

func (h *httpHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperror.Validation("unreadable request body"))
		return
	}

	res, err := h.svc.Ingest(r.Context(), sensorID, apiKeyParam(r), body)
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Inserted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *httpHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	caller, err := h.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	purge := q.Get("purge") == "true"
	from, err := parseBound(q.Get("from"), q.Get("from_inclusive"))
	if err != nil {
		writeError(w, apperror.Validation("malformed from bound"))
		return
	}
	to, err := parseBound(q.Get("to"), q.Get("to_inclusive"))
	if err != nil {
		writeError(w, apperror.Validation("malformed to bound"))
		return
	}

	n, err := h.svc.DeleteData(r.Context(), caller, sensorID, apiKeyParam(r), from, to, purge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *httpHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	caller, err := h.callerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := parseLoadQuery(r.URL.Query())
	if err != nil {
		writeError(w, apperror.Validation(err.Error()))
		return
	}

	rows, err := h.svc.LoadData(r.Context(), caller, sensorID, apiKeyParam(r), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *httpHandler) callerFromRequest(r *http.Request) (permission.Caller, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return permission.Caller{}, nil
	}
	return h.sessions.ResolveCaller(r.Context(), cookie.Value)
}

func apiKeyParam(r *http.Request) *string {
	key := r.URL.Query().Get("key")
	if key == "" {
		return nil
	}
	return &key
}

func parseBound(raw, inclusiveRaw string) (*TimeBound, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := tsfmt.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &TimeBound{Value: t, Inclusive: inclusiveRaw == "true"}, nil
}

func parseLoadQuery(q map[string][]string) (store.LoadQuery, error) {
	get := func(name string) string {
		if v, ok := q[name]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var lq store.LoadQuery
	lq.Ordering = get("ordering")
	lq.OrderCol = get("order_col")

	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return lq, err
		}
		lq.Limit = n
	}
	if raw := get("from"); raw != "" {
		t, err := tsfmt.Parse(raw)
		if err != nil {
			return lq, err
		}
		lq.From = &t
	}
	if raw := get("to"); raw != "" {
		t, err := tsfmt.Parse(raw)
		if err != nil {
			return lq, err
		}
		lq.To = &t
	}
	if raw := get("time_grouping"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return lq, err
		}
		lq.TimeGrouping = &secs
	}

	if raw := get("cols"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			name, agg, found := strings.Cut(part, ".")
			spec := store.ColSpec{Name: name}
			if found {
				spec.Agg = store.Aggregation(strings.ToUpper(agg))
			}
			lq.Cols = append(lq.Cols, spec)
		}
	}
	return lq, nil
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
