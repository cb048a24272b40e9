// Package eventsock holds the types shared by the eventsock client and server:
// named events carrying raw JSON payloads, and the handlers that consume them.
package eventsock

import (
	"context"
	"encoding/json"
)

// Emitter sends a named event with an arbitrary payload to the other side of a connection.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// EventHandler is called for each inbound event it was registered for.
// The payload is the event data exactly as it arrived on the wire.
type EventHandler func(ctx context.Context, payload json.RawMessage) error

// ConnectHandler is called once a connection is established, before any inbound
// event is dispatched. The emitter sends on that connection.
type ConnectHandler func(ctx context.Context, emitter Emitter) error

// DisconnectHandler is called when a connection ends. err is nil for a graceful disconnect.
type DisconnectHandler func(ctx context.Context, err error)

type eventNameKey struct{}

// WithEventName returns a copy of ctx carrying the name of the event being dispatched.
func WithEventName(ctx context.Context, event string) context.Context {
	return context.WithValue(ctx, eventNameKey{}, event)
}

// EventName returns the name of the event being dispatched, if ctx carries one.
func EventName(ctx context.Context) (string, bool) {
	event, ok := ctx.Value(eventNameKey{}).(string)
	return event, ok
}
