package gateway

import "encoding/json"

// Message types on the wire.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Message is the JSON envelope exchanged with the execution agent.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

// ErrPayload is the error body of a failed response.
type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MustRaw marshals v, returning nil on failure.
func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
