package outbound

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/store"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// dispatch sends the already-serialized payload to every route bound
// to sensorID, optionally running it through that route's transformer
// first. Each route is dispatched independently: one handler's
// failure never blocks another's delivery.
func (e *Engine) dispatch(ctx context.Context, sensorID string, payload []byte, routes []store.OutboundRoute) {
	if len(routes) == 0 {
		return
	}

	for _, route := range routes {
		body := payload
		if route.TransformerID != nil && e.broker != nil {
			transformed, err := e.broker.GetTransformed(ctx, *route.TransformerID, payload)
			if err != nil {
				slog.Error("outbound transform failed", "sensor_id", sensorID, "route_id", route.ID, "error", err)
				metrics.OutboundDispatches.WithLabelValues("transform_error").Inc()
				continue
			}
			body = transformed
		}

		handler, err := e.store.GetEventHandler(ctx, route.HandlerID)
		if err != nil {
			slog.Error("outbound handler lookup failed", "route_id", route.ID, "error", err)
			metrics.OutboundDispatches.WithLabelValues("handler_error").Inc()
			continue
		}

		if !matchesFilter(handler.Filter, body) {
			metrics.OutboundDispatches.WithLabelValues("filtered").Inc()
			continue
		}

		e.deliver(ctx, handler, body)
	}
}

// matchesFilter evaluates a handler's filter expression against an
// event body. Filters are currently always-true; the hook exists so a
// future expression language slots in without touching dispatch.
func matchesFilter(filter string, _ []byte) bool {
	return true
}

func (e *Engine) deliver(ctx context.Context, handler *store.EventHandler, body []byte) {
	method := strings.ToUpper(handler.Method)
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader *bytes.Reader
	if method == http.MethodGet {
		bodyReader = bytes.NewReader(nil)
	} else {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, handler.URL, bodyReader)
	if err != nil {
		slog.Error("outbound request build failed", "handler_id", handler.ID, "url", handler.URL, "error", err)
		metrics.OutboundDispatches.WithLabelValues("request_error").Inc()
		return
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Warn("outbound webhook delivery failed", "handler_id", handler.ID, "url", handler.URL, "error", err)
		metrics.OutboundDispatches.WithLabelValues("network_error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("outbound webhook rejected", "handler_id", handler.ID, "url", handler.URL, "status", resp.StatusCode)
		metrics.OutboundDispatches.WithLabelValues("rejected").Inc()
		return
	}

	metrics.OutboundDispatches.WithLabelValues("delivered").Inc()
}
