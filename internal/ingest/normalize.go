package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-proofcast/pkg/domain"
)

// Historical webhook senders used two payload shapes besides the canonical
// one. Shape detection is explicit and ordered; a body matching none of the
// three is a bad request.
//
//   - canonical: {"id","type","payload",...} as produced by current senders.
//   - upstream order: the commerce platform's own order object
//     ("line_items", "customer", ...) forwarded verbatim.
//   - legacy flattened: {"event_type","first_name","city",...} with payload
//     fields at the top level.
const (
	defaultEventType = "order.created"
)

type canonicalBody struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   domain.JSONMap `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

type upstreamOrderBody struct {
	OrderNumber json.Number `json:"order_number"`
	CreatedAt   time.Time   `json:"created_at"`
	LineItems   []struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
	} `json:"line_items"`
	Customer *struct {
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		DefaultAddress *struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"default_address"`
	} `json:"customer"`
	ShippingAddress *struct {
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"shipping_address"`
}

// Normalize maps a wire payload into the canonical event for the given site.
func Normalize(source, siteID string, body []byte) (domain.NotificationEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: malformed JSON body", domain.ErrBadRequest)
	}

	var (
		event domain.NotificationEvent
		err   error
	)
	switch {
	case hasKey(probe, "type") && hasKey(probe, "payload"):
		event, err = normalizeCanonical(body)
	case hasKey(probe, "line_items") || hasKey(probe, "customer"):
		event, err = normalizeUpstreamOrder(body)
	case hasKey(probe, "event_type"):
		event, err = normalizeLegacyFlattened(probe)
	default:
		return domain.NotificationEvent{}, fmt.Errorf("%w: unrecognized payload shape", domain.ErrBadRequest)
	}
	if err != nil {
		return domain.NotificationEvent{}, err
	}

	event.SiteID = siteID
	event.EnsureID()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Payload == nil {
		event.Payload = domain.JSONMap{}
	}
	if source != "" {
		event.Payload["source"] = source
	}
	if err := event.Validate(); err != nil {
		return domain.NotificationEvent{}, err
	}
	return event, nil
}

func normalizeCanonical(body []byte) (domain.NotificationEvent, error) {
	var parsed canonicalBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: invalid canonical payload", domain.ErrBadRequest)
	}
	if parsed.Type == "" {
		return domain.NotificationEvent{}, fmt.Errorf("%w: event type is required", domain.ErrBadRequest)
	}
	return domain.NotificationEvent{
		ID:        parsed.ID,
		Type:      parsed.Type,
		Payload:   parsed.Payload,
		CreatedAt: parsed.CreatedAt,
	}, nil
}

func normalizeUpstreamOrder(body []byte) (domain.NotificationEvent, error) {
	var parsed upstreamOrderBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: invalid order payload", domain.ErrBadRequest)
	}

	payload := domain.JSONMap{}
	if parsed.OrderNumber != "" {
		payload["order_number"] = parsed.OrderNumber.String()
	}
	if len(parsed.LineItems) > 0 {
		payload["product_name"] = parsed.LineItems[0].Title
		if parsed.LineItems[0].Quantity > 0 {
			payload["quantity"] = parsed.LineItems[0].Quantity
		}
	}
	if parsed.Customer != nil {
		payload["first_name"] = parsed.Customer.FirstName
		if parsed.Customer.DefaultAddress != nil {
			payload["city"] = parsed.Customer.DefaultAddress.City
			payload["country"] = parsed.Customer.DefaultAddress.Country
		}
	}
	// A shipping address wins over the customer's default address.
	if parsed.ShippingAddress != nil {
		payload["city"] = parsed.ShippingAddress.City
		payload["country"] = parsed.ShippingAddress.Country
	}

	return domain.NotificationEvent{
		Type:      defaultEventType,
		Payload:   payload,
		CreatedAt: parsed.CreatedAt,
	}, nil
}

func normalizeLegacyFlattened(probe map[string]json.RawMessage) (domain.NotificationEvent, error) {
	var eventType string
	if err := json.Unmarshal(probe["event_type"], &eventType); err != nil || eventType == "" {
		return domain.NotificationEvent{}, fmt.Errorf("%w: event_type must be a non-empty string", domain.ErrBadRequest)
	}

	// Every remaining top-level field becomes payload content.
	payload := domain.JSONMap{}
	for key, raw := range probe {
		if key == "event_type" {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		payload[key] = value
	}
	return domain.NotificationEvent{
		Type:    eventType,
		Payload: payload,
	}, nil
}

func hasKey(probe map[string]json.RawMessage, key string) bool {
	_, ok := probe[key]
	return ok
}
