package websockets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingEvent is returned when a frame does not name an event.
var ErrMissingEvent = errors.New("event name is required")

// ErrorEvent is the event a server emits when it refuses a client event.
// Its payload is an ErrorPayload.
const ErrorEvent = "error"

// ErrorPayload is the payload of an ErrorEvent.
type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// WireMessage represents the JSON structure of a single event frame.
type WireMessage struct {
	Event string          `json:"e"`           // Event name
	Data  json.RawMessage `json:"d,omitempty"` // Event payload, kept as raw JSON
}

// NewWireMessage marshals payload into a WireMessage for the named event.
// A nil payload produces a message without data.
func NewWireMessage(event string, payload any) (WireMessage, error) {
	if event == "" {
		return WireMessage{}, ErrMissingEvent
	}

	msg := WireMessage{Event: event}
	if payload == nil {
		return msg, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}

	data, err := marshal(payload)
	if err != nil {
		return WireMessage{}, fmt.Errorf("failed to marshal payload for event %q: %w", event, err)
	}
	msg.Data = data

	return msg, nil
}

// Encode returns the frame bytes for the message. Payload characters are not
// HTML-escaped, so a payload survives a round trip apart from insignificant whitespace.
func (m WireMessage) Encode() ([]byte, error) {
	if m.Event == "" {
		return nil, ErrMissingEvent
	}

	return marshal(m)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeWireMessage parses a frame. The payload is left undecoded.
func DecodeWireMessage(data []byte) (WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WireMessage{}, fmt.Errorf("invalid event frame: %w", err)
	}
	if msg.Event == "" {
		return WireMessage{}, ErrMissingEvent
	}

	// "d": null is the same as no payload
	if string(msg.Data) == "null" {
		msg.Data = nil
	}

	return msg, nil
}
