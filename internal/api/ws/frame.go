package ws

import "github.com/modelbench-go/pkg/events"

// Frame types exchanged on /ws, tagged by the "type" field.
const (
	FrameConnected   = "Connected"
	FrameEvent       = "Event"
	FramePing        = "Ping"
	FramePong        = "Pong"
	FrameSubscribe   = "Subscribe"
	FrameUnsubscribe = "Unsubscribe"
	FrameError       = "Error"
)

// Frame is the JSON envelope for every WebSocket message.
type Frame struct {
	Type       string        `json:"type"`
	ClientID   string        `json:"client_id,omitempty"`
	Event      *events.Event `json:"event,omitempty"`
	EventTypes []string      `json:"event_types,omitempty"`
	Message    string        `json:"message,omitempty"`
}
