// Package outbound is the server-side webhook fan-out engine: it
// listens for sensor events on per-sensor NOTIFY channels, looks each
// one up against a routing table rebuilt whenever configuration
// changes, and dispatches through an optional transform to a webhook.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/store"
)

const configChannel = "log_events_handler"

// notifyPollInterval bounds a single WaitForNotification call inside
// forwardNotifications. A long-lived context passed straight into that
// call would force-close the underlying connection on cancellation;
// polling in short slices lets forwardNotifications notice cancellation
// between waits and UNLISTEN/Release the connection itself once its
// loop exits, instead of racing buildAndServe's Release against it.
const notifyPollInterval = time.Second

// unlistenTimeout bounds the UNLISTEN call issued during teardown.
const unlistenTimeout = 2 * time.Second

// transformer is the subset of *transform.Broker the engine depends on.
type transformer interface {
	GetTransformed(ctx context.Context, scriptID string, body []byte) ([]byte, error)
}

// HandlerChangeNotification is the payload delivered on configChannel.
type HandlerChangeNotification struct {
	Otel struct {
		Context string `json:"context"`
	} `json:"otel"`
}

// Engine owns the config-reload listener and the dispatcher.
type Engine struct {
	store   *store.Store
	broker  transformer
	reloadC chan struct{}
}

// New builds an Engine over s, dispatching transforms through broker.
func New(s *store.Store, broker transformer) *Engine {
	return &Engine{store: s, broker: broker, reloadC: make(chan struct{}, 1)}
}

// Run starts both long-lived tasks and supervises them until ctx is
// cancelled, restarting either on failure with exponential backoff
// (1ms doubling to a 5s cap).
func (e *Engine) Run(ctx context.Context) {
	go supervise(ctx, "outbound config-reload listener", e.runConfigListener)
	supervise(ctx, "outbound dispatcher", e.runDispatcher)
}

// runConfigListener holds one dedicated connection LISTENing on
// configChannel and forwards every notification on the capacity-1
// reload channel; a channel that's already full needs no further
// signal, since the dispatcher re-reads the whole table on wake-up.
func (e *Engine) runConfigListener(ctx context.Context) error {
	l, err := e.store.NewListener(ctx)
	if err != nil {
		return err
	}
	defer l.Release()

	if err := l.Listen(ctx, configChannel); err != nil {
		return err
	}

	for {
		n, err := l.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var note HandlerChangeNotification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
			slog.Warn("config-change notification deserialisation failed, skipping reload", "error", err)
			continue
		}

		select {
		case e.reloadC <- struct{}{}:
		default:
		}
	}
}

// runDispatcher rebuilds the routing table on startup and every time
// runConfigListener signals a change, then serves sensor events
// against that table until the next reload.
func (e *Engine) runDispatcher(ctx context.Context) error {
	for {
		if err := e.buildAndServe(ctx); err != nil {
			return err
		}
	}
}

func (e *Engine) buildAndServe(ctx context.Context) error {
	// Sensor events notified between the previous listener's UNLISTEN and
	// this listener's LISTEN are not dispatched; the event log has already
	// persisted them.
	l, err := e.store.NewListener(ctx)
	if err != nil {
		return err
	}

	routes, err := e.store.ListOutboundRoutes(ctx)
	if err != nil {
		l.Release()
		return err
	}

	table := make(map[string][]store.OutboundRoute, len(routes))
	for _, r := range routes {
		table[r.SensorID] = append(table[r.SensorID], r)
	}
	metrics.OutboundRoutesActive.Set(float64(len(table)))

	var channels []string
	if len(table) == 0 {
		channels = []string{"sensor/"}
	} else {
		channels = make([]string, 0, len(table))
		for sensorID := range table {
			channels = append(channels, "sensor/"+sensorID)
		}
	}
	for _, channel := range channels {
		if err := l.Listen(ctx, channel); err != nil {
			l.Release()
			return err
		}
	}

	notifyCtx, notifyCancel := context.WithCancel(ctx)
	notifyC := make(chan *notification, 16)
	done := make(chan struct{})
	go forwardNotifications(notifyCtx, l, channels, notifyC, done)
	defer func() {
		notifyCancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.reloadC:
			return nil
		case n, ok := <-notifyC:
			if !ok {
				return nil
			}
			if n.err != nil {
				return n.err
			}
			go e.dispatch(ctx, n.sensorID, n.payload, table[n.sensorID])
		}
	}
}

type notification struct {
	sensorID string
	payload  []byte
	err      error
}

// forwardNotifications owns l end-to-end: it polls for notifications
// in short slices (rather than blocking on ctx directly, which would
// force-close the connection on cancellation) and, once its loop ends
// for any reason, is the only goroutine that issues UNLISTEN for every
// channel on channels and Release on l, then closes done. Callers must
// cancel ctx and wait on done before treating l's connection as free.
func forwardNotifications(ctx context.Context, l *store.Listener, channels []string, out chan<- *notification, done chan<- struct{}) {
	defer close(out)
	defer close(done)
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
		defer cancel()
		for _, channel := range channels {
			if err := l.Unlisten(unlistenCtx, channel); err != nil {
				slog.Warn("outbound unlisten failed", "channel", channel, "error", err)
			}
		}
		l.Release()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		waitCtx, waitCancel := context.WithTimeout(context.Background(), notifyPollInterval)
		n, err := l.WaitForNotification(waitCtx)
		waitCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			select {
			case out <- &notification{err: err}:
			case <-ctx.Done():
			}
			return
		}

		sensorID, _ := cutPrefix(n.Channel, "sensor/")
		select {
		case out <- &notification{sensorID: sensorID, payload: []byte(n.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

// supervise runs fn until ctx is cancelled, restarting it on every
// returned error with backoff starting at 1ms, doubled per failure,
// capped at 5s.
func supervise(ctx context.Context, name string, fn func(context.Context) error) {
	delay := time.Millisecond
	const maxDelay = 5 * time.Second

	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}

		slog.Warn(name+" failed, restarting", "error", err, "backoff", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
