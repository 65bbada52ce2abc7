package proofcast

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-proofcast/pkg/commands"
)

const testSecret = "whsec_module"

func newTestModule(t *testing.T) (*Module, *httptest.Server) {
	t.Helper()
	m, err := NewModule(ModuleOptions{})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	ts := httptest.NewServer(m.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	err = m.Commands().ProvisionSite.Execute(context.Background(), commands.ProvisionSite{
		ID:            "s1",
		Domain:        "shop.example.com",
		Status:        "verified",
		WebhookSecret: testSecret,
	})
	if err != nil {
		t.Fatalf("provision site: %v", err)
	}
	return m, ts
}

// openStream connects to the SSE endpoint and returns a reader positioned
// after the connected frame.
func openStream(t *testing.T, ts *httptest.Server, siteID string) *bufio.Reader {
	t.Helper()
	resp, err := http.Get(ts.URL + "/stream?site_id=" + siteID)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	reader := bufio.NewReader(resp.Body)
	frame := readFrame(t, reader)
	if frame["type"] != "connected" {
		t.Fatalf("expected connected frame, got %v", frame)
	}
	return reader
}

func readFrame(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		return frame
	}
}

func postWebhook(t *testing.T, ts *httptest.Server, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/shopify", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	req.Header.Set("X-Shop-Domain", "shop.example.com")
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestModuleWebhookToStream(t *testing.T) {
	_, ts := newTestModule(t)
	reader := openStream(t, ts, "s1")

	body := []byte(`{"id":"n1","type":"purchase","payload":{"product_name":"Desk"}}`)
	if resp := postWebhook(t, ts, body); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	for {
		frame := readFrame(t, reader)
		if frame["type"] == "ping" {
			continue
		}
		if frame["type"] != "notification" {
			t.Fatalf("unexpected frame %v", frame)
		}
		event := frame["event"].(map[string]any)
		if event["id"] != "n1" || event["site_id"] != "s1" {
			t.Fatalf("unexpected event %v", event)
		}
		payload := event["payload"].(map[string]any)
		if payload["product_name"] != "Desk" {
			t.Fatalf("unexpected payload %v", payload)
		}
		return
	}
}

func TestModuleRejectsUnknownStream(t *testing.T) {
	_, ts := newTestModule(t)

	resp, err := http.Get(ts.URL + "/stream?site_id=ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestModuleHealthEndpoint(t *testing.T) {
	_, ts := newTestModule(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestModuleShutdownDrainsConnections(t *testing.T) {
	m, ts := newTestModule(t)
	openStream(t, ts, "s1")

	deadline := time.Now().Add(2 * time.Second)
	for m.Gateway().ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := m.Gateway().ConnectionCount(); got != 0 {
		t.Fatalf("expected all connections released, got %d", got)
	}
}
