// Package eventlog turns ingest-shaped HTTP calls into persisted,
// NOTIFY-fanned-out LogEvent rows: a middleware enqueues one event per
// request, and a single background consumer drains the queue, applies
// the default path filter, derives sensor_id, and persists.
package eventlog

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/dbis-ilm/sensbee/internal/store"
)

// pathFilter matches the canonical sensor-data HTTP shape and the
// MQTT topic shape, both keyed off a 36-character id.
var pathFilter = regexp.MustCompile(
	`^/api/sensors/[^/]{36}/data/(ingest|delete)$` +
		`|` +
		`^/api/sensors/[^/]{36}(/[^/]{36})?$`,
)

var sensorIDPattern = regexp.MustCompile(`^/api/sensors/([^/]{36})`)

// Publisher owns the event queue and its consumer task.
type Publisher struct {
	store *store.Store
	ch    chan store.LogEvent
}

// NewPublisher builds a Publisher backed by s. The queue is a large
// buffered channel rather than a literally unbounded structure —
// producers (HTTP requests, MQTT packets) are rate-limited by inbound
// request rate, so a generous bound never fills in practice.
func NewPublisher(s *store.Store) *Publisher {
	return &Publisher{store: s, ch: make(chan store.LogEvent, 4096)}
}

// Enqueue submits ev for asynchronous filtering and persistence. A
// full queue drops the event rather than blocking the caller.
func (p *Publisher) Enqueue(ev store.LogEvent) {
	select {
	case p.ch <- ev:
	default:
		slog.Warn("log event queue full, dropping event", "path", ev.Path)
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.ch:
			p.process(ctx, ev)
		}
	}
}

func (p *Publisher) process(ctx context.Context, ev store.LogEvent) {
	if !pathFilter.MatchString(ev.Path) {
		slog.Debug("dropping log event, path does not match filter", "path", ev.Path)
		return
	}

	if m := sensorIDPattern.FindStringSubmatch(ev.Path); len(m) == 2 {
		id := m[1]
		ev.SensorID = &id
	}

	if err := p.store.InsertLogEvent(ctx, ev); err != nil {
		slog.Error("insert log event failed", "path", ev.Path, "error", err)
		return
	}
	logAtLevel(ev)
}

func logAtLevel(ev store.LogEvent) {
	logger := slog.With("transport", ev.Transport, "path", ev.Path, "status", ev.Status)
	switch {
	case ev.Status >= 500:
		logger.Error("request")
	case ev.Status >= 400:
		logger.Warn("request")
	default:
		logger.Info("request")
	}
}
