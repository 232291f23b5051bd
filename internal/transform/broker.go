// Package transform owns the single long-lived WebSocket connection
// to the external script-execution service: one background task owns
// both the socket and the pending-request table, and every caller
// communicates with it through Broker's exported methods rather than
// touching the connection directly.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// FrameType is the message discriminant of the wire frame.
type FrameType int

const (
	FrameUnknown FrameType = iota
	FrameError
	FrameRequest
	FrameGetScript
	FrameSendScript
)

// frame is the JSON envelope exchanged over the WebSocket. Compressed
// marks Data as zstd-compressed-then-base64-encoded, for payloads
// large enough that compression pays for itself.
type frame struct {
	ScriptID   string    `json:"script_id"`
	Type       FrameType `json:"type"`
	Data       string    `json:"data"`
	Compressed bool      `json:"compressed,omitempty"`
}

// resetThreshold is how long a connection must stay up before a
// subsequent disconnect resets the reconnect backoff to its floor.
const resetThreshold = 30 * time.Second

// ErrConnectionLost is returned to every pending caller when the
// WebSocket drops before its reply arrived.
var ErrConnectionLost = fmt.Errorf("transform broker: connection lost")

// Broker serves get_transformed(script_id, bytes) -> bytes requests
// by relaying them over a single owned WebSocket connection.
type Broker struct {
	url   string
	store *store.Store

	reqCh chan outgoingRequest

	mu      sync.Mutex
	pending map[string]chan result
}

type outgoingRequest struct {
	scriptID string
	data     []byte
	reply    chan result
}

type result struct {
	data []byte
	err  error
}

// New builds a Broker that dials url and serves script lookups from s.
func New(url string, s *store.Store) *Broker {
	return &Broker{
		url:     url,
		store:   s,
		reqCh:   make(chan outgoingRequest),
		pending: make(map[string]chan result),
	}
}

// GetTransformed sends (scriptID, body) to the external executor and
// waits for its reply, or ctx cancellation.
func (b *Broker) GetTransformed(ctx context.Context, scriptID string, body []byte) ([]byte, error) {
	reply := make(chan result, 1)
	req := outgoingRequest{scriptID: scriptID, data: body, reply: reply}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b.reqCh <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-reply:
		return res.data, res.err
	}
}

// Run owns the connection for the lifetime of ctx: connect, serve,
// reconnect with exponential backoff (1s doubling to a 30s cap) on
// every disconnect, until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2
	bo.Reset()

	for {
		start := time.Now()
		err := b.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		b.failPending(ErrConnectionLost)
		metrics.BrokerConnected.Set(0)

		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}

		next := bo.NextBackOff()
		slog.Warn("transform broker disconnected, reconnecting", "error", err, "backoff", next)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

func (b *Broker) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial transform broker: %w", err)
	}
	defer conn.CloseNow()

	slog.Info("connected to transform broker", "url", b.url)
	metrics.BrokerConnected.Set(1)

	errCh := make(chan error, 1)
	go func() { errCh <- b.readLoop(ctx, conn) }()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
			return ctx.Err()
		case err := <-errCh:
			return err
		case req := <-b.reqCh:
			b.registerPending(req.scriptID, req.reply)
			f := frame{ScriptID: req.scriptID, Type: FrameRequest}
			f.Data, f.Compressed = encodeFrameData(req.data)
			if err := b.send(ctx, conn, f); err != nil {
				b.completePending(req.scriptID, result{err: err})
				return err
			}
			metrics.BrokerRequestsReceived.Inc()
		}
	}
}

func (b *Broker) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read transform broker frame: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("dropping malformed transform broker frame", "error", err)
			continue
		}

		b.handleFrame(ctx, conn, f)
	}
}

func (b *Broker) handleFrame(ctx context.Context, conn *websocket.Conn, f frame) {
	switch f.Type {
	case FrameRequest:
		data, err := decodeFrameData(f.Data, f.Compressed)
		if err != nil {
			b.completePending(f.ScriptID, result{err: fmt.Errorf("transform broker: %w", err)})
			metrics.BrokerErrors.Inc()
			return
		}
		b.completePending(f.ScriptID, result{data: data})
		metrics.BrokerSuccesses.Inc()
	case FrameError:
		b.completePending(f.ScriptID, result{err: fmt.Errorf("transform broker: %s", f.Data)})
		metrics.BrokerErrors.Inc()
	case FrameGetScript:
		b.serveGetScript(ctx, conn, f.ScriptID)
	default:
		slog.Warn("unhandled transform broker frame type", "type", f.Type)
	}
}

// serveGetScript answers a GetScript ingress independently of the
// pending table: the broker looks the script body up and replies with
// SendScript carrying the same script id.
func (b *Broker) serveGetScript(ctx context.Context, conn *websocket.Conn, scriptID string) {
	t, err := b.store.GetTransformer(ctx, scriptID)
	if err != nil {
		slog.Warn("get_script lookup failed", "script_id", scriptID, "error", err)
		return
	}
	reply := frame{ScriptID: scriptID, Type: FrameSendScript}
	reply.Data, reply.Compressed = encodeFrameData([]byte(t.Script))
	if err := b.send(ctx, conn, reply); err != nil {
		slog.Warn("send_script reply failed", "script_id", scriptID, "error", err)
	}
}

func (b *Broker) send(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal transform broker frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (b *Broker) registerPending(scriptID string, reply chan result) {
	b.mu.Lock()
	b.pending[scriptID] = reply
	b.mu.Unlock()
}

func (b *Broker) completePending(scriptID string, res result) {
	b.mu.Lock()
	reply, ok := b.pending[scriptID]
	delete(b.pending, scriptID)
	b.mu.Unlock()

	if !ok {
		return
	}
	select {
	case reply <- res:
	default:
	}
}

func (b *Broker) failPending(err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan result)
	b.mu.Unlock()

	for _, reply := range pending {
		select {
		case reply <- result{err: err}:
		default:
		}
	}
}
