// Package mqttingest is the MQTT front door: a single process-wide
// subscriber on "/api/sensors/#" that forwards each packet into the
// shared ingest pipeline with no per-packet task spawned, so a slow
// database backpressures the broker connection directly.
package mqttingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/eclipse/paho.golang/paho"

	"github.com/dbis-ilm/sensbee/internal/apperror"
	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/ingest"
	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// ingestor is the subset of *ingest.Service the subscriber depends on.
type ingestor interface {
	Ingest(ctx context.Context, sensorID string, apiKey *string, body []byte) (ingest.Result, error)
}

const resetThreshold = 30 * time.Second

// Subscriber owns the MQTT connection lifecycle for the lifetime of
// the process: connect, subscribe, serve until disconnect, reconnect
// with the same exponential-backoff cadence as the transform broker.
type Subscriber struct {
	brokerAddr string
	clientID   string
	pipeline   ingestor
	store      *store.Store
}

// New builds a Subscriber dialing brokerAddr ("host:port" or
// "tcp://host:port") as clientID.
func New(brokerAddr, clientID string, pipeline ingestor, s *store.Store) *Subscriber {
	return &Subscriber{brokerAddr: brokerAddr, clientID: clientID, pipeline: pipeline, store: s}
}

// Run owns the connection for the lifetime of ctx.
func (sub *Subscriber) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2
	bo.Reset()

	for {
		start := time.Now()
		err := sub.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}

		next := bo.NextBackOff()
		slog.Warn("mqtt subscriber disconnected, reconnecting", "error", err, "backoff", next)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

func (sub *Subscriber) connectAndServe(ctx context.Context) error {
	conn, err := net.Dial("tcp", strings.TrimPrefix(sub.brokerAddr, "tcp://"))
	if err != nil {
		return err
	}

	disconnected := make(chan error, 1)
	notifyDisconnect := func(err error) {
		select {
		case disconnected <- err:
		default:
		}
	}

	router := paho.NewStandardRouter()
	router.RegisterHandler(topicPrefix+"#", sub.handlePublish(ctx))

	client := paho.NewClient(paho.ClientConfig{
		Conn:               conn,
		Router:             router,
		OnClientError:      func(err error) { notifyDisconnect(err) },
		OnServerDisconnect: func(d *paho.Disconnect) { notifyDisconnect(nil) },
	})
	defer client.Disconnect(&paho.Disconnect{ReasonCode: 0})

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ca, err := client.Connect(connectCtx, &paho.Connect{
		ClientID:   sub.clientID,
		CleanStart: true,
		KeepAlive:  30,
	})
	if err != nil {
		return err
	}
	if ca.ReasonCode != 0 {
		return &connectError{reason: ca.ReasonCode}
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topicPrefix + "#", QoS: 0}},
	}); err != nil {
		return err
	}

	slog.Info("mqtt subscriber connected", "broker", sub.brokerAddr, "topic", topicPrefix+"#")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-disconnected:
		return err
	}
}

// handlePublish forwards each packet into the pipeline synchronously
// — no goroutine is spawned per message, so the broker connection
// itself absorbs backpressure from a slow pipeline.
func (sub *Subscriber) handlePublish(ctx context.Context) func(*paho.Publish) {
	return func(p *paho.Publish) {
		sensorID, apiKey, ok := parseTopic(p.Topic)
		if !ok {
			return
		}

		metrics.MQTTReceived.WithLabelValues(sensorID).Inc()

		res, err := sub.pipeline.Ingest(ctx, sensorID, apiKey, p.Payload)
		status := statusFor(res, err)
		sub.recordMetrics(sensorID, status, err)
		sub.emitLogEvent(ctx, sensorID, status)
	}
}

func (sub *Subscriber) recordMetrics(sensorID string, status int, err error) {
	if err != nil {
		if status == 401 {
			metrics.MQTTAuthErrors.WithLabelValues(sensorID).Inc()
		} else {
			metrics.MQTTIngestErrors.WithLabelValues(sensorID).Inc()
		}
		return
	}
	if status == 200 {
		metrics.MQTTDBSuccesses.WithLabelValues(sensorID).Inc()
	}
}

func (sub *Subscriber) emitLogEvent(ctx context.Context, sensorID string, status int) {
	ev := store.LogEvent{
		OtelContext: id.Token(),
		WallTime:    time.Now().UTC(),
		Transport:   "MQTT",
		Path:        topicPrefix + sensorID,
		Status:      status,
		SensorID:    &sensorID,
	}
	if err := sub.store.InsertLogEvent(ctx, ev); err != nil {
		slog.Warn("mqtt log event insert failed", "sensor_id", sensorID, "error", err)
	}
}

func statusFor(res ingest.Result, err error) int {
	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			return appErr.Status()
		}
		return 500
	}
	if res.Inserted {
		return 200
	}
	return 204
}

type connectError struct{ reason byte }

func (e *connectError) Error() string {
	return fmt.Sprintf("mqtt connect rejected, reason code %d", e.reason)
}
