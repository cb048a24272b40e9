package client

import (
	"context"
	"fmt"
	"time"

	"github.com/tsarna/eventsock/pkg/eventsock"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"go.uber.org/zap"
)

// AuthorizationProvider is a function that returns an authorization header value.
// It receives a context and should return the authorization value (e.g., "Bearer token123")
// or an error if authorization cannot be obtained.
type AuthorizationProvider func(ctx context.Context) (string, error)

// ClientBuilder provides a fluent interface for building WebSocket clients.
type ClientBuilder struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeChannelSize int
	readLimit        int64
	authProvider     AuthorizationProvider // Authorization provider
	headers          map[string][]string   // Custom HTTP headers for WebSocket handshake
	telemetry        *websockets.Telemetry

	connectHandlers    []eventsock.ConnectHandler
	disconnectHandlers []eventsock.DisconnectHandler
	eventHandlers      map[string][]eventsock.EventHandler
	patternHandlers    []patternHandler
}

type patternHandler struct {
	pattern string
	handler eventsock.EventHandler
}

// DefaultReadLimit is the largest inbound frame accepted by default.
const DefaultReadLimit = 1 << 20

// NewClient creates a new WebSocket client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
		writeChannelSize: 100, // Default buffer size
		readLimit:        DefaultReadLimit,
		eventHandlers:    make(map[string][]eventsock.EventHandler),
	}
}

// WithURL sets the WebSocket URL to connect to.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the WebSocket connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteChannelSize sets the buffer size for the internal write channel.
// Emit fails once this many frames are waiting to be written. Default is 100.
func (b *ClientBuilder) WithWriteChannelSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithReadLimit sets the largest inbound frame, in bytes, the client accepts.
// A larger frame closes the connection with StatusMessageTooBig. A negative
// limit disables the check; zero is ignored. Default is 1 MiB.
func (b *ClientBuilder) WithReadLimit(limit int64) *ClientBuilder {
	if limit != 0 {
		b.readLimit = limit
	}
	return b
}

// WithAuthorization sets a static Authorization header value.
// This will be sent with the WebSocket handshake request.
func (b *ClientBuilder) WithAuthorization(authHeader string) *ClientBuilder {
	b.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return b
}

// WithAuthorizationProvider sets an authorization provider function.
// This function will be called during connection to obtain the authorization header.
func (b *ClientBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *ClientBuilder {
	b.authProvider = provider
	return b
}

// WithHeaders adds custom HTTP headers for the WebSocket handshake.
// Multiple calls merge; a key given again replaces its earlier values.
func (b *ClientBuilder) WithHeaders(headers map[string][]string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	for key, values := range headers {
		b.headers[key] = values
	}
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithTelemetry sets the telemetry recorder. By default nothing is recorded.
func (b *ClientBuilder) WithTelemetry(telemetry *websockets.Telemetry) *ClientBuilder {
	b.telemetry = telemetry
	return b
}

// OnConnect registers a handler run after each successful Connect, before any
// inbound event is dispatched. Handlers run in registration order.
func (b *ClientBuilder) OnConnect(handler eventsock.ConnectHandler) *ClientBuilder {
	if handler != nil {
		b.connectHandlers = append(b.connectHandlers, handler)
	}
	return b
}

// OnDisconnect registers a handler run when the connection ends.
func (b *ClientBuilder) OnDisconnect(handler eventsock.DisconnectHandler) *ClientBuilder {
	if handler != nil {
		b.disconnectHandlers = append(b.disconnectHandlers, handler)
	}
	return b
}

// On registers a handler for inbound events with the given name.
// Several handlers may share a name; they are called in registration order.
func (b *ClientBuilder) On(event string, handler eventsock.EventHandler) *ClientBuilder {
	if handler != nil {
		b.eventHandlers[event] = append(b.eventHandlers[event], handler)
	}
	return b
}

// OnMatch registers a handler for every inbound event whose name matches an
// MQTT-style pattern: "+" matches one "/"-separated level and a trailing "#"
// matches any remainder, so "#" matches every event. Pattern handlers run
// after the handlers registered with On for the same event.
func (b *ClientBuilder) OnMatch(pattern string, handler eventsock.EventHandler) *ClientBuilder {
	if handler != nil {
		b.patternHandlers = append(b.patternHandlers, patternHandler{pattern: pattern, handler: handler})
	}
	return b
}

// Build creates and returns a new WebSocket client with the configured options.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	handlers := make(map[string][]eventsock.EventHandler, len(b.eventHandlers))
	for event, hs := range b.eventHandlers {
		handlers[event] = append([]eventsock.EventHandler(nil), hs...)
	}

	client := &Client{
		url:                b.url,
		logger:             b.logger,
		dialTimeout:        b.dialTimeout,
		writeChannelSize:   b.writeChannelSize,
		readLimit:          b.readLimit,
		authProvider:       b.authProvider,
		headers:            b.headers,
		telemetry:          b.telemetry,
		connectHandlers:    append([]eventsock.ConnectHandler(nil), b.connectHandlers...),
		disconnectHandlers: append([]eventsock.DisconnectHandler(nil), b.disconnectHandlers...),
		eventHandlers:      handlers,
		patternHandlers:    append([]patternHandler(nil), b.patternHandlers...),
	}

	return client, nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.dialTimeout <= 0 {
		b.dialTimeout = 30 * time.Second
	}

	if b.writeChannelSize <= 0 {
		b.writeChannelSize = 100
	}

	if b.readLimit == 0 {
		b.readLimit = DefaultReadLimit
	}

	return nil
}
