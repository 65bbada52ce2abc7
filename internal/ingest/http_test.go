package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newWebhookServer(t *testing.T, b *recordingBus) *httptest.Server {
	t.Helper()
	svc := newTestService(t, b, nil)
	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{source}", svc.Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postWebhook(t *testing.T, ts *httptest.Server, domainHeader, signature string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/shopify", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(HeaderDomain, domainHeader)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookEndpointAccepts(t *testing.T) {
	b := &recordingBus{}
	ts := newWebhookServer(t, b)

	body := []byte(`{"id":"n1","type":"purchase","payload":{}}`)
	resp := postWebhook(t, ts, "shop.example.com", sign(body, testSecret), body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var reply map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["id"] != "n1" || reply["site_id"] != "s1" {
		t.Fatalf("unexpected reply: %v", reply)
	}
	if len(b.records()) != 1 {
		t.Fatalf("expected one publish, got %d", len(b.records()))
	}
}

func TestWebhookEndpointStatusMapping(t *testing.T) {
	b := &recordingBus{}
	ts := newWebhookServer(t, b)
	body := []byte(`{"id":"n1","type":"purchase","payload":{}}`)

	cases := []struct {
		name       string
		domain     string
		signature  string
		body       []byte
		wantStatus int
	}{
		{"invalid signature", "shop.example.com", sign(body, "bad"), body, http.StatusUnauthorized},
		{"unknown tenant", "ghost.example.com", sign(body, testSecret), body, http.StatusNotFound},
		{"malformed body", "shop.example.com", sign([]byte(`{`), testSecret), []byte(`{`), http.StatusBadRequest},
		{"missing domain header", "", sign(body, testSecret), body, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postWebhook(t, ts, tc.domain, tc.signature, tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
		})
	}

	if got := len(b.records()); got != 0 {
		t.Fatalf("rejected webhooks must not publish, got %d", got)
	}
}

func TestWebhookEndpointRejectsGet(t *testing.T) {
	b := &recordingBus{}
	svc := newTestService(t, b, nil)
	ts := httptest.NewServer(svc.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
