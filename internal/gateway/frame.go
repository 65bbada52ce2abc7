package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame type markers sent to streaming clients.
const (
	FrameConnected    = "connected"
	FramePing         = "ping"
	FrameError        = "error"
	FrameNotification = "notification"
)

// Frame is the envelope written to every streaming connection, regardless of
// transport. SSE renders it as a `data:` line; WebSocket as a text message.
type Frame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	SiteID       string          `json:"site_id,omitempty"`
	Message      string          `json:"message,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
}

func (f Frame) encode() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// Frames are built from marshal-safe fields; this is unreachable in
		// practice but keeps the write path total.
		return []byte(fmt.Sprintf(`{"type":%q}`, f.Type))
	}
	return data
}

func connectedFrame(connectionID, siteID string) []byte {
	return Frame{Type: FrameConnected, ConnectionID: connectionID, SiteID: siteID}.encode()
}

func pingFrame() []byte {
	return Frame{Type: FramePing}.encode()
}

func errorFrame(message string) []byte {
	return Frame{Type: FrameError, Message: message}.encode()
}

func notificationFrame(event []byte) []byte {
	return Frame{Type: FrameNotification, Event: json.RawMessage(event)}.encode()
}
