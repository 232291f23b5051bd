// Package metrics provides Prometheus instrumentation for sensbee.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensbee_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Transform broker (C3) metrics.
var (
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensbee_transform_broker_connected",
		Help: "1 if the transform broker WebSocket is currently connected, else 0.",
	})

	BrokerRequestsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensbee_transform_broker_requests_received_total",
		Help: "Total number of transform requests received from callers.",
	})

	BrokerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensbee_transform_broker_errors_total",
		Help: "Total number of transform requests that failed.",
	})

	BrokerSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensbee_transform_broker_successes_total",
		Help: "Total number of transform requests that succeeded.",
	})
)

// MQTT ingest (C5) metrics, per-sensor counters.
var (
	MQTTReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_mqtt_received_total",
		Help: "Total number of MQTT packets received, per sensor.",
	}, []string{"sensor_id"})

	MQTTIngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_mqtt_ingest_errors_total",
		Help: "Total number of MQTT ingest errors, per sensor.",
	}, []string{"sensor_id"})

	MQTTAuthErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_mqtt_auth_errors_total",
		Help: "Total number of MQTT authorization failures, per sensor.",
	}, []string{"sensor_id"})

	MQTTDBSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_mqtt_db_succ_total",
		Help: "Total number of MQTT ingests that inserted at least one row, per sensor.",
	}, []string{"sensor_id"})
)

// Outbound handler engine (C8) metrics.
var (
	OutboundDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensbee_outbound_dispatches_total",
		Help: "Total number of webhook dispatch attempts, per outcome.",
	}, []string{"outcome"})

	OutboundRoutesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensbee_outbound_routes_active",
		Help: "Number of sensors currently routed to at least one outbound handler.",
	})
)

// Live WebSocket push (C9) metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensbee_ws_connections_active",
		Help: "Number of active live WebSocket connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensbee_ws_messages_total",
		Help: "Total number of WebSocket notification frames relayed to clients.",
	})
)
