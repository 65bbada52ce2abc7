package ingest

import (
	"errors"
	"testing"

	"github.com/goliatone/go-proofcast/pkg/domain"
)

func TestNormalizeCanonicalShape(t *testing.T) {
	body := []byte(`{"id":"n1","type":"purchase","payload":{"product_name":"Desk","city":"Lisbon"}}`)
	event, err := Normalize("shopify", "s1", body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.ID != "n1" || event.Type != "purchase" || event.SiteID != "s1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Payload["product_name"] != "Desk" || event.Payload["source"] != "shopify" {
		t.Fatalf("unexpected payload: %+v", event.Payload)
	}
	if event.CreatedAt.IsZero() {
		t.Fatal("created_at must default when absent")
	}
}

func TestNormalizeUpstreamOrderShape(t *testing.T) {
	body := []byte(`{
		"order_number": 1042,
		"line_items": [{"title": "Standing Desk", "quantity": 2}],
		"customer": {
			"first_name": "Ana",
			"default_address": {"city": "Porto", "country": "PT"}
		},
		"shipping_address": {"city": "Lisbon", "country": "PT"}
	}`)
	event, err := Normalize("shopify", "s1", body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.Type != "order.created" {
		t.Fatalf("expected order.created, got %s", event.Type)
	}
	if event.ID == "" {
		t.Fatal("an id must be assigned")
	}
	if event.Payload["product_name"] != "Standing Desk" {
		t.Fatalf("product_name: %+v", event.Payload)
	}
	if event.Payload["first_name"] != "Ana" {
		t.Fatalf("first_name: %+v", event.Payload)
	}
	// The shipping address wins over the customer default address.
	if event.Payload["city"] != "Lisbon" {
		t.Fatalf("city: %+v", event.Payload)
	}
	if event.Payload["order_number"] != "1042" {
		t.Fatalf("order_number: %+v", event.Payload)
	}
}

func TestNormalizeLegacyFlattenedShape(t *testing.T) {
	body := []byte(`{"event_type":"signup","first_name":"Joana","city":"Braga"}`)
	event, err := Normalize("", "s1", body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.Type != "signup" {
		t.Fatalf("expected signup, got %s", event.Type)
	}
	if event.Payload["first_name"] != "Joana" || event.Payload["city"] != "Braga" {
		t.Fatalf("payload fields lost: %+v", event.Payload)
	}
	if _, ok := event.Payload["event_type"]; ok {
		t.Fatal("event_type must not leak into payload")
	}
}

func TestNormalizeRejectsUnknownShapes(t *testing.T) {
	cases := map[string]string{
		"not json":          `[1,2,3]`,
		"no markers":        `{"foo":"bar"}`,
		"empty type":        `{"type":"","payload":{}}`,
		"empty event_type":  `{"event_type":""}`,
		"numeric eventtype": `{"event_type":42}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Normalize("", "s1", []byte(body)); !errors.Is(err, domain.ErrBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
		})
	}
}
