package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is an encoded message ready for delivery. The body is encoded once
// at publish time and shared by every subscriber.
type Message struct {
	Kind Kind
	Body json.RawMessage
}

// Encode marshals v as the body of a message of the given kind. v is
// expected to carry its own "type" field.
func Encode(kind Kind, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", kind, err)
	}
	return Message{Kind: kind, Body: body}, nil
}

// Timestamp converts t to float seconds since the epoch, the wire format of
// every "ts" field.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// RawPayload is the body of a raw message.
type RawPayload struct {
	Type       Kind    `json:"type"`
	TS         float64 `json:"ts"`
	Raw        string  `json:"raw"`
	ParseError bool    `json:"parse_error,omitempty"`
}

// NewRawPayload builds the raw message for an unparsed line.
func NewRawPayload(l Line) RawPayload {
	return RawPayload{Type: KindRaw, TS: Timestamp(l.Received), Raw: l.Raw, ParseError: l.ParseError}
}
