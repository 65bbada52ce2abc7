package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONMap carries opaque structured payload content. The pipeline never
// inspects it beyond JSON encoding for the wire.
type JSONMap map[string]any

// NotificationEvent is the canonical event pushed to widget connections.
// Immutable once published; this subsystem never persists it.
type NotificationEvent struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Type      string    `json:"type"`
	Payload   JSONMap   `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationEvent assigns an id and timestamp when the caller did not.
func NewNotificationEvent(siteID, eventType string, payload JSONMap) NotificationEvent {
	return NotificationEvent{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// EnsureID assigns a UUID when the event is about to be published without one.
func (e *NotificationEvent) EnsureID() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
}

// Validate checks the fields required before a publish attempt.
func (e NotificationEvent) Validate() error {
	if e.SiteID == "" {
		return fmt.Errorf("%w: event site_id is required", ErrBadRequest)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrBadRequest)
	}
	return nil
}

// Encode renders the wire representation of the event.
func (e NotificationEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire payload back into an event.
func DecodeEvent(data []byte) (NotificationEvent, error) {
	var event NotificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return NotificationEvent{}, fmt.Errorf("domain: decode event: %w", err)
	}
	return event, nil
}

const channelPrefix = "notifications:site:"

// ChannelFor derives the pub/sub channel name for a tenant. One channel per
// site; the channel exists only as a naming convention.
func ChannelFor(siteID string) string {
	return channelPrefix + siteID
}

// SiteFromChannel recovers the site id from a channel name. Returns false for
// channels outside the notification namespace.
func SiteFromChannel(channel string) (string, bool) {
	if len(channel) <= len(channelPrefix) || channel[:len(channelPrefix)] != channelPrefix {
		return "", false
	}
	return channel[len(channelPrefix):], true
}

// ConnectionState tracks a streaming connection through its lifecycle.
type ConnectionState int32

const (
	// StateConnecting covers the handshake, authorization pending.
	StateConnecting ConnectionState = iota
	// StateOpen means the connection is registered and receiving frames.
	StateOpen
	// StateClosed is terminal; resources are released.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
