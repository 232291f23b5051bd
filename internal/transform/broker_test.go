package transform_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/transform"
)

// echoServer answers every Request frame with the same data, and
// answers GetScript frames with a canned SendScript body.
func echoServer(t *testing.T, scripts map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var f struct {
				ScriptID string `json:"script_id"`
				Type     int    `json:"type"`
				Data     string `json:"data"`
			}
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}

			switch f.Type {
			case 2: // Request
				reply, _ := json.Marshal(map[string]any{
					"script_id": f.ScriptID, "type": 2, "data": f.Data,
				})
				_ = conn.Write(ctx, websocket.MessageText, reply)
			case 3: // GetScript
				reply, _ := json.Marshal(map[string]any{
					"script_id": f.ScriptID, "type": 4, "data": scripts[f.ScriptID],
				})
				_ = conn.Write(ctx, websocket.MessageText, reply)
			}
		}
	}))
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGetTransformed_RoundTrips(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	b := transform.New(wsURL(t, srv), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	out, err := b.GetTransformed(reqCtx, "script-1", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(out))
}

func TestGetTransformed_ContextCancelledBeforeConnect(t *testing.T) {
	b := transform.New("ws://127.0.0.1:1/unreachable", nil)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go b.Run(runCtx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer reqCancel()

	_, err := b.GetTransformed(reqCtx, "script-2", []byte("x"))
	require.Error(t, err)
}
