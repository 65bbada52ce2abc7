package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *httptest.Server, siteID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?site_id=" + siteID
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { socket.Close() })
	return socket
}

func readFrame(t *testing.T, socket *websocket.Conn) Frame {
	t.Helper()
	socket.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := socket.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

// readUntil skips frames of other types (pings, mostly) until one of the
// requested type arrives.
func readUntil(t *testing.T, socket *websocket.Conn, frameType string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, socket)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %q frame after 20 reads", frameType)
	return Frame{}
}

func TestWSHandshakeAndDelivery(t *testing.T) {
	gw, b := newTestStack(t, Config{HeartbeatInterval: time.Minute})
	ts := httptest.NewServer(gw.WSHandler())
	t.Cleanup(ts.Close)

	socket := dialWS(t, ts, "s1")
	connected := readUntil(t, socket, FrameConnected)
	if connected.SiteID != "s1" || connected.ConnectionID == "" {
		t.Fatalf("bad connected frame: %+v", connected)
	}

	publishEvent(t, gw, b, "s1", "n1")
	frame := readUntil(t, socket, FrameNotification)
	if got := eventID(t, frame); got != "n1" {
		t.Fatalf("expected n1, got %s", got)
	}
}

func TestWSBothConnectionsReceiveAndSurviveSiblingClose(t *testing.T) {
	gw, b := newTestStack(t, Config{HeartbeatInterval: time.Minute})
	ts := httptest.NewServer(gw.WSHandler())
	t.Cleanup(ts.Close)

	first := dialWS(t, ts, "s1")
	second := dialWS(t, ts, "s1")
	readUntil(t, first, FrameConnected)
	readUntil(t, second, FrameConnected)

	publishEvent(t, gw, b, "s1", "n-both")
	if got := eventID(t, readUntil(t, first, FrameNotification)); got != "n-both" {
		t.Fatalf("first: expected n-both, got %s", got)
	}
	if got := eventID(t, readUntil(t, second, FrameNotification)); got != "n-both" {
		t.Fatalf("second: expected n-both, got %s", got)
	}

	first.Close()
	waitFor(t, func() bool { return gw.ConnectionCount() == 1 })

	publishEvent(t, gw, b, "s1", "n-after")
	if got := eventID(t, readUntil(t, second, FrameNotification)); got != "n-after" {
		t.Fatalf("second after sibling close: expected n-after, got %s", got)
	}
}

func TestWSRejectsUnknownSiteWithCloseCode(t *testing.T) {
	gw, _ := newTestStack(t, Config{})
	ts := httptest.NewServer(gw.WSHandler())
	t.Cleanup(ts.Close)

	socket := dialWS(t, ts, "missing")
	frame := readFrame(t, socket)
	if frame.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", frame)
	}

	socket.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := socket.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeNotFound {
		t.Fatalf("expected close code %d, got %d", closeNotFound, closeErr.Code)
	}
}

func TestWSHeartbeat(t *testing.T) {
	gw, _ := newTestStack(t, Config{HeartbeatInterval: 50 * time.Millisecond})
	ts := httptest.NewServer(gw.WSHandler())
	t.Cleanup(ts.Close)

	socket := dialWS(t, ts, "s1")
	readUntil(t, socket, FrameConnected)
	readUntil(t, socket, FramePing)
	readUntil(t, socket, FramePing)
}

func TestWSShutdownSendsServiceRestart(t *testing.T) {
	gw, _ := newTestStack(t, Config{HeartbeatInterval: time.Minute, ShutdownGrace: 50 * time.Millisecond})
	ts := httptest.NewServer(gw.WSHandler())
	t.Cleanup(ts.Close)

	socket := dialWS(t, ts, "s1")
	readUntil(t, socket, FrameConnected)

	done := make(chan struct{})
	go func() {
		gw.Shutdown(context.Background())
		close(done)
	}()

	socket.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := socket.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseServiceRestart {
		t.Fatalf("expected close code %d, got %d", websocket.CloseServiceRestart, closeErr.Code)
	}
	<-done
}
