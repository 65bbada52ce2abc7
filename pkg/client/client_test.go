package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/retry"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func writeFrame(t *testing.T, socket *websocket.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := socket.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func encodeEvent(t *testing.T, event domain.NotificationEvent) json.RawMessage {
	t.Helper()
	data, err := event.Encode()
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return data
}

// collect appends delivered events. The client invokes the handler from a
// single goroutine, so no locking is needed.
func collect(events *[]domain.NotificationEvent) Handler {
	return func(ctx context.Context, event domain.NotificationEvent) {
		*events = append(*events, event)
	}
}

func TestClientReceivesNotifications(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("site_id"); got != "s1" {
			t.Errorf("expected site_id s1, got %q", got)
		}
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		writeFrame(t, socket, frame{Type: frameConnected, ConnectionID: "c1"})
		writeFrame(t, socket, frame{Type: frameNotification, Event: encodeEvent(t, domain.NotificationEvent{
			ID: "n1", SiteID: "s1", Type: "purchase", Payload: domain.JSONMap{"product_name": "Desk"},
		})})
		// Ping traffic must not reach the handler.
		writeFrame(t, socket, frame{Type: "ping"})
		socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer ts.Close()

	var events []domain.NotificationEvent
	c, err := New(wsURL(ts), "s1", collect(&events))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID != "n1" || events[0].Payload["product_name"] != "Desk" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestClientStopsOnNormalClosure(t *testing.T) {
	var dials atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		writeFrame(t, socket, frame{Type: frameConnected, ConnectionID: "c1"})
		socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer ts.Close()

	c, err := New(wsURL(ts), "s1", func(context.Context, domain.NotificationEvent) {})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("clean close must not redial, got %d dials", got)
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	var dials atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		writeFrame(t, socket, frame{Type: frameConnected, ConnectionID: "c1"})
		if n == 1 {
			// Abrupt drop, no close handshake.
			socket.UnderlyingConn().Close()
			return
		}
		writeFrame(t, socket, frame{Type: frameNotification, Event: encodeEvent(t, domain.NotificationEvent{
			ID: "n2", SiteID: "s1", Type: "purchase",
		})})
		socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer ts.Close()

	var events []domain.NotificationEvent
	c, err := New(wsURL(ts), "s1", collect(&events),
		WithBackoff(retry.LinearBackoff{Base: 10 * time.Millisecond, Max: 10 * time.Millisecond}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := c.Dials(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
	if len(events) != 1 || events[0].ID != "n2" {
		t.Fatalf("expected event from second session, got %+v", events)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := wsURL(ts)
	ts.Close()

	c, err := New(endpoint, "s1", func(context.Context, domain.NotificationEvent) {},
		WithMaxAttempts(3),
		WithBackoff(retry.LinearBackoff{Base: time.Millisecond, Max: time.Millisecond}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = c.Run(context.Background())
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
	if got := c.Dials(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
}

func TestClientHeartbeatWatchdog(t *testing.T) {
	var dials atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		writeFrame(t, socket, frame{Type: frameConnected, ConnectionID: "c1"})
		if n == 1 {
			// Silent server: no heartbeats, no close. The watchdog fires.
			time.Sleep(300 * time.Millisecond)
			return
		}
		socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer ts.Close()

	c, err := New(wsURL(ts), "s1", func(context.Context, domain.NotificationEvent) {},
		WithHeartbeatTimeout(50*time.Millisecond),
		WithBackoff(retry.LinearBackoff{Base: 10 * time.Millisecond, Max: 10 * time.Millisecond}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := c.Dials(); got != 2 {
		t.Fatalf("expected watchdog to force a redial, got %d dials", got)
	}
}

func TestClientStopsOnContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		writeFrame(t, socket, frame{Type: frameConnected, ConnectionID: "c1"})
		for {
			if _, _, err := socket.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	c, err := New(wsURL(ts), "s1", func(context.Context, domain.NotificationEvent) {})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
}
