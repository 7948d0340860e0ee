// Package ws adapts the chat coordinator to WebSocket connections: it upgrades
// HTTP requests, runs per-connection read/write pumps, maintains room
// subscription groups, and translates between JSON event envelopes and
// coordinator workflows.
package ws

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire framing for both directions: an event name plus an
// event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses an inbound frame.
//
// Postcondition: Returns an Envelope with a non-empty Event, or an error.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope missing event name")
	}
	return env, nil
}

// EncodeEvent marshals an outbound event and payload into a frame. A nil
// payload produces an envelope with no data field.
func EncodeEvent(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", event, err)
	}
	return frame, nil
}
