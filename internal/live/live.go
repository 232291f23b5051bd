// Package live serves the browser-facing WebSocket push (C9): each
// connection authenticates via the session cookie, toggles per-sensor
// subscriptions, replays recent history on subscribe, and relays
// subsequent NOTIFY payloads verbatim.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// sessionResolver is satisfied by *sensor.Service; declared locally to
// avoid importing that package directly, the same test-seam idiom
// internal/ingest already uses.
type sessionResolver interface {
	ResolveCaller(ctx context.Context, sessionID string) (permission.Caller, error)
}

const (
	sessionCookie = "token"

	pingInterval = 5 * time.Second
	idleTimeout  = 10 * time.Second

	historyLimit = 10

	// notifyPollInterval bounds how long relayNotifications blocks in a
	// single WaitForNotification call. A long-lived context passed
	// straight into that call would force-close the underlying
	// connection on cancellation; polling in short slices lets the same
	// goroutine that owns the connection notice cancellation between
	// waits and UNLISTEN/Release it cleanly instead.
	notifyPollInterval = time.Second
	unlistenTimeout    = 2 * time.Second
)

// Handler serves the live push endpoint.
type Handler struct {
	store    *store.Store
	perm     *permission.Oracle
	sessions sessionResolver
}

// New builds a Handler over store s, gating subscriptions through
// perm and resolving session cookies through sessions.
func New(s *store.Store, perm *permission.Oracle, sessions sessionResolver) *Handler {
	return &Handler{store: s, perm: perm, sessions: sessions}
}

// Routes registers the WS endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/les/v1/stream/ws", h.serveWS)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	caller, err := h.sessions.ResolveCaller(r.Context(), cookie.Value)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if caller.Anonymous() {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	sess := &session{
		handler: h,
		caller:  caller,
		conn:    conn,
		subs:    make(map[string]*subscription),
	}
	sess.run(r.Context())
}

// subscription tracks one active Listener: the channel it watches and
// the means to stop its relay goroutine. cancel tells the goroutine to
// stop polling; the goroutine itself issues UNLISTEN and Release once
// its loop exits, then closes done. Callers must always cancel and
// wait on done before considering the Listener's connection free of
// concurrent use.
type subscription struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// session is one live connection's mutable state: the set of sensors
// it's subscribed to, each with its own dedicated Listener, plus (for
// admins falling back to the unparsed-message affordance) a listener
// on the general channel.
type session struct {
	handler *Handler
	caller  permission.Caller
	conn    *websocket.Conn

	subs     map[string]*subscription
	generalL *subscription
}

type clientMessage struct {
	Sensor string `json:"sensor"`
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	// Registered in this order so cancel runs first (defers unwind
	// LIFO): every subscription's relay goroutine sees its context
	// cancelled before closeAll cancels and waits on it individually,
	// instead of racing Release against a still-running goroutine.
	defer s.closeAll()
	defer cancel()

	events := make(chan notifyEvent, 32)
	reads := make(chan clientMessage, 1)
	readErrs := make(chan error, 1)

	go s.readLoop(ctx, reads, readErrs)

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErrs:
			slog.Debug("live ws read loop ended", "user_id", s.caller.UserID, "error", err)
			return

		case msg := <-reads:
			idle.Reset(idleTimeout)
			s.handleMessage(ctx, msg, events)

		case ev := <-events:
			idle.Reset(idleTimeout)
			if err := s.conn.Write(ctx, websocket.MessageText, ev.payload); err != nil {
				return
			}
			metrics.WSMessagesTotal.Inc()

		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingInterval)
			err := s.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				_ = s.conn.Close(websocket.StatusPolicyViolation, "ping failed")
				return
			}

		case <-idle.C:
			_ = s.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context, out chan<- clientMessage, errs chan<- error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			errs <- err
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if s.caller.IsAdmin {
				out <- clientMessage{}
			}
			continue
		}
		out <- msg
	}
}

type notifyEvent struct {
	payload []byte
}

func (s *session) handleMessage(ctx context.Context, msg clientMessage, events chan<- notifyEvent) {
	if msg.Sensor == "" {
		s.subscribeGeneral(ctx, events)
		return
	}

	if _, subscribed := s.subs[msg.Sensor]; subscribed {
		s.unsubscribe(msg.Sensor)
		return
	}
	s.subscribeSensor(ctx, msg.Sensor, events)
}

func (s *session) subscribeSensor(ctx context.Context, sensorID string, events chan<- notifyEvent) {
	perms, err := s.handler.perm.UserSensorPerms(ctx, s.caller, sensorID)
	if err != nil || !perms.Has(permission.Read) {
		_ = s.conn.Close(websocket.StatusPolicyViolation, "permission denied")
		return
	}

	l, err := s.handler.store.NewListener(ctx)
	if err != nil {
		slog.Error("live ws listener acquire failed", "sensor_id", sensorID, "error", err)
		return
	}
	channel := "sensor/" + sensorID
	if err := l.Listen(ctx, channel); err != nil {
		l.Release()
		slog.Error("live ws listen failed", "sensor_id", sensorID, "error", err)
		return
	}
	subCtx, subCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.subs[sensorID] = &subscription{channel: channel, cancel: subCancel, done: done}
	go relayNotifications(subCtx, l, channel, events, done)

	history, err := s.handler.store.LoadSensorHistory(ctx, sensorID, historyLimit)
	if err != nil {
		slog.Warn("live ws history replay failed", "sensor_id", sensorID, "error", err)
		return
	}
	for _, row := range history {
		select {
		case events <- notifyEvent{payload: row}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) subscribeGeneral(ctx context.Context, events chan<- notifyEvent) {
	if !s.caller.IsAdmin || s.generalL != nil {
		return
	}

	l, err := s.handler.store.NewListener(ctx)
	if err != nil {
		slog.Error("live ws general listener acquire failed", "error", err)
		return
	}
	const channel = "log_events"
	if err := l.Listen(ctx, channel); err != nil {
		l.Release()
		slog.Error("live ws general listen failed", "error", err)
		return
	}
	subCtx, subCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.generalL = &subscription{channel: channel, cancel: subCancel, done: done}
	go relayNotifications(subCtx, l, channel, events, done)

	history, err := s.handler.store.LoadGeneralHistory(ctx, historyLimit)
	if err != nil {
		slog.Warn("live ws general history replay failed", "error", err)
		return
	}
	for _, row := range history {
		select {
		case events <- notifyEvent{payload: row}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) unsubscribe(sensorID string) {
	sub, ok := s.subs[sensorID]
	if !ok {
		return
	}
	delete(s.subs, sensorID)
	sub.cancel()
	<-sub.done
}

// relayNotifications owns l end-to-end: it polls for notifications in
// short slices (rather than blocking on the caller's ctx directly,
// which would force-close the connection on cancellation) and, once
// its loop exits for any reason, is the only goroutine that issues
// UNLISTEN and Release on l, then closes done. Callers must cancel ctx
// and wait on done before treating l's connection as free.
func relayNotifications(ctx context.Context, l *store.Listener, channel string, out chan<- notifyEvent, done chan<- struct{}) {
	defer close(done)
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
		defer cancel()
		if err := l.Unlisten(unlistenCtx, channel); err != nil {
			slog.Warn("live ws unlisten failed", "channel", channel, "error", err)
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
			return
		}

		select {
		case out <- notifyEvent{payload: []byte(n.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) closeAll() {
	subs := make([]*subscription, 0, len(s.subs)+1)
	for id, sub := range s.subs {
		delete(s.subs, id)
		subs = append(subs, sub)
	}
	if s.generalL != nil {
		subs = append(subs, s.generalL)
		s.generalL = nil
	}
	for _, sub := range subs {
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
	}
}
