package wsrealtime

import "encoding/json"

// Message types exchanged with the realtime server
const (
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypeChange     = "change"
	TypeError      = "error"
)

// Message is the frame envelope of the realtime websocket protocol.
// A client sends one subscribe frame per connection; the server answers with
// subscribed (or error) and then streams change frames.
type Message struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Table   string          `json:"table,omitempty"`
	Filter  string          `json:"filter,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
