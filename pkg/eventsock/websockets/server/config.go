package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"go.uber.org/zap"
)

// Handler answers one inbound event on a connection. The payload is the
// event data exactly as the client sent it.
type Handler func(ctx context.Context, conn *Connection, payload json.RawMessage) error

// ConnectHandler is called for each accepted connection before its events are read.
type ConnectHandler func(ctx context.Context, conn *Connection) error

// ListenerConfig holds the configuration for creating a WebSocket Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	logger          *zap.Logger
	queueSize       int
	pingInterval    time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	readLimit       int64
	authorizer      Authorizer
	eventAuth       EventAuthFunc
	telemetry       *websockets.Telemetry
	connectHandlers []ConnectHandler
	handlers        map[string][]Handler
}

const (
	// DefaultQueueSize is the default size of each connection's outbound queue.
	DefaultQueueSize = 256

	// DefaultPingInterval is the default interval for sending WebSocket ping frames.
	DefaultPingInterval = 30 * time.Second

	// DefaultReadTimeout is the default timeout for reading messages from clients.
	// Should be longer than ping interval to allow for pong responses.
	DefaultReadTimeout = 60 * time.Second

	// DefaultWriteTimeout is the default timeout for writing messages to clients.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest inbound frame accepted by default.
	DefaultReadLimit = 1 << 20
)

// NewListenerConfig creates a new ListenerConfig for building a WebSocket Listener.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithLogger(logger).
//	    WithPingInterval(45 * time.Second).
//	    Handle("my event", respond).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		eventAuth:    AllowAllEvents,
		handlers:     make(map[string][]Handler),
	}
}

// WithLogger sets the Logger for the WebSocket Listener. It is required.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithQueueSize sets the outbound queue size of each connection.
// Events emitted while the queue is full are rejected.
//
// Default: 256 messages per connection
func (c *ListenerConfig) WithQueueSize(size int) *ListenerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the interval for sending WebSocket ping frames.
// Set to 0 to disable ping/pong health monitoring.
//
// Default: 30 seconds
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithReadTimeout sets the timeout for reading messages from WebSocket clients.
//
// Default: 60 seconds
func (c *ListenerConfig) WithReadTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.readTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the timeout for writing messages to WebSocket clients.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the largest inbound frame, in bytes, a connection accepts.
// A larger frame closes the connection with StatusMessageTooBig. A negative
// limit disables the check; zero is ignored.
//
// Default: 1 MiB
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit != 0 {
		c.readLimit = limit
	}
	return c
}

// WithAuthorizer sets the check applied to each upgrade request. Rejected
// requests get 401 Unauthorized with a JSON body of the form {"error": "..."}.
//
// Default: every request is accepted
func (c *ListenerConfig) WithAuthorizer(authorizer Authorizer) *ListenerConfig {
	c.authorizer = authorizer
	return c
}

// WithEventAuth sets the authorization function applied to every event a
// client emits, before it reaches the handlers registered with Handle.
//
// Predefined options:
//   - AllowAllEvents: allows every event (default)
//   - DenyAllEvents: refuses every event
//   - AllowEvents("my event"): allows only the named events
//   - AllowEventPatterns("client/#"): allows events matching a pattern
//
// Default: AllowAllEvents
func (c *ListenerConfig) WithEventAuth(authFunc EventAuthFunc) *ListenerConfig {
	if authFunc != nil {
		c.eventAuth = authFunc
	}
	return c
}

// WithTelemetry sets the telemetry recorder shared by all connections.
func (c *ListenerConfig) WithTelemetry(telemetry *websockets.Telemetry) *ListenerConfig {
	c.telemetry = telemetry
	return c
}

// OnConnect registers a handler run for every accepted connection.
func (c *ListenerConfig) OnConnect(handler ConnectHandler) *ListenerConfig {
	if handler != nil {
		c.connectHandlers = append(c.connectHandlers, handler)
	}
	return c
}

// Handle registers a handler for inbound events with the given name.
func (c *ListenerConfig) Handle(event string, handler Handler) *ListenerConfig {
	if handler != nil {
		c.handlers[event] = append(c.handlers[event], handler)
	}
	return c
}

// IsValid checks if the configuration has all required parameters set.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new WebSocket Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
