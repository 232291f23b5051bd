package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dbis-ilm/sensbee/internal/store"
)

func TestEngine_Deliver_PostsJSONBody(t *testing.T) {
	var received int32
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := &Engine{}
	handler := &store.EventHandler{ID: "h1", URL: srv.URL, Method: "POST"}
	e.deliver(context.Background(), handler, []byte(`{"value":1}`))

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", received)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q, want application/json", gotContentType)
	}
}

func TestEngine_Deliver_NonTwoXXDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := &Engine{}
	handler := &store.EventHandler{ID: "h1", URL: srv.URL, Method: "GET"}
	e.deliver(context.Background(), handler, []byte(`{}`))
}

func TestMatchesFilter(t *testing.T) {
	if !matchesFilter("", []byte(`{}`)) {
		t.Fatal("empty filter should always match")
	}
	if !matchesFilter("true", []byte(`{}`)) {
		t.Fatal("constant filter should always match")
	}
}

func TestCutPrefix(t *testing.T) {
	id, ok := cutPrefix("sensor/abc-123", "sensor/")
	if !ok || id != "abc-123" {
		t.Fatalf("cutPrefix = (%q, %v), want (abc-123, true)", id, ok)
	}
	if _, ok := cutPrefix("log_events", "sensor/"); ok {
		t.Fatal("expected no match for unrelated channel")
	}
}
