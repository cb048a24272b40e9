package server

import (
	"context"
	"fmt"
	"slices"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
)

// An EventAuthFunc is called for every event a client emits, before any
// handler sees it. It can:
//   - Return (msg, nil) to allow the event unchanged
//   - Return (modifiedMsg, nil) to allow the event with modifications
//   - Return (nil, nil) to silently drop the event
//   - Return (nil, error) to refuse the event; the client is sent an
//     ErrorEvent carrying the error text
type EventAuthFunc func(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error)

// AllowAllEvents is an EventAuthFunc that allows all events without modification.
// This is the default policy.
func AllowAllEvents(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
	return msg, nil
}

// DenyAllEvents is an EventAuthFunc that refuses every event.
func DenyAllEvents(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
	return nil, fmt.Errorf("client events are not allowed")
}

// DropAllEvents is an EventAuthFunc that silently drops all events.
func DropAllEvents(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
	return nil, nil
}

// AllowEvents returns an EventAuthFunc that only allows the named events.
func AllowEvents(events ...string) EventAuthFunc {
	allowed := slices.Clone(events)
	return func(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
		if slices.Contains(allowed, msg.Event) {
			return msg, nil
		}
		return nil, fmt.Errorf("event %q is not allowed", msg.Event)
	}
}

// AllowEventPatterns returns an EventAuthFunc that allows events whose name
// matches at least one MQTT-style pattern.
//
// Pattern examples:
//   - "my event" - only that event
//   - "sensor/+/data" - sensor/temperature/data, sensor/humidity/data, etc.
//   - "client/#" - every event below client/
func AllowEventPatterns(patterns ...string) EventAuthFunc {
	allowed := slices.Clone(patterns)
	return func(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
		for _, pattern := range allowed {
			if mqttpattern.Matches(pattern, msg.Event) {
				return msg, nil
			}
		}
		return nil, fmt.Errorf("event %q is not allowed", msg.Event)
	}
}

// ChainEventAuth returns an EventAuthFunc that applies multiple EventAuthFunc functions
// in sequence. The first function that returns an error or drops the message (nil, nil)
// stops the chain. If all functions allow the message, the final possibly
// modified message is returned.
func ChainEventAuth(funcs ...EventAuthFunc) EventAuthFunc {
	return func(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
		current := msg
		for _, authFunc := range funcs {
			result, err := authFunc(ctx, current)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, nil
			}
			current = result
		}
		return current, nil
	}
}
