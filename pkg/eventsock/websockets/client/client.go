package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/coder/websocket"
	"github.com/tsarna/eventsock/pkg/eventsock"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("client is not connected")

// Client is a WebSocket event client. It emits named events to the server and
// dispatches named events from the server to the handlers registered on its builder.
type Client struct {
	// Configuration
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

	// Connection state
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	started   int32
	connected int32
	stopping  int32

	// Internal channels
	writeChannel chan outboundFrame
	ready        chan struct{} // closed once connect handlers have run
	done         chan struct{} // closed when the read loop exits
}

type outboundFrame struct {
	event string
	data  []byte
}

var _ eventsock.Emitter = (*Client)(nil)

// Connect establishes the WebSocket connection, runs the connect handlers and
// then starts dispatching inbound events. ctx bounds the dial and the
// authorization lookup only: once Connect returns, the connection lives until
// Disconnect is called or the server goes away.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("client is already started")
	}

	// Parse URL
	if _, err := url.Parse(c.url); err != nil {
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("invalid URL: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.WithoutCancel(ctx))

	// Create context with timeout for dialing
	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	dialOptions, err := c.dialOptions(dialCtx)
	if err != nil {
		connCancel()
		atomic.StoreInt32(&c.started, 0)
		return err
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, dialOptions)
	if err != nil {
		// Reset state on connection failure so the caller may try again
		connCancel()
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	conn.SetReadLimit(c.readLimit)

	ready := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.ctx, c.cancel = connCtx, connCancel
	c.writeChannel = make(chan outboundFrame, c.writeChannelSize)
	c.ready = ready
	c.done = done
	c.mu.Unlock()

	atomic.StoreInt32(&c.connected, 1)

	c.logger.Info("WebSocket client connected", zap.String("url", c.url))
	c.telemetry.RecordConnect(connCtx)

	go c.readLoop(conn, ready, done)
	go c.writeLoop(conn)

	for _, handler := range c.connectHandlers {
		if err := handler(connCtx, c); err != nil {
			c.logger.Warn("Connect handler error", zap.Error(err))
		}
	}
	close(ready)

	return nil
}

func (c *Client) dialOptions(ctx context.Context) (*websocket.DialOptions, error) {
	dialOptions := &websocket.DialOptions{}

	if c.headers != nil {
		dialOptions.HTTPHeader = make(map[string][]string)
		for key, values := range c.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	// Set authorization header if configured (this may override a custom Authorization header)
	if c.authProvider != nil {
		authValue, err := c.authProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if dialOptions.HTTPHeader == nil {
				dialOptions.HTTPHeader = make(map[string][]string)
			}
			dialOptions.HTTPHeader["Authorization"] = []string{authValue}
		}
	}

	return dialOptions, nil
}

// Disconnect closes the WebSocket connection and stops message processing.
// It is safe to call on a client that is not connected, and more than once.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return nil // Already stopping
	}

	wasConnected := atomic.SwapInt32(&c.connected, 0) == 1
	if wasConnected {
		c.logger.Info("Disconnecting WebSocket client")
	}

	c.cleanupWithStatus(websocket.StatusNormalClosure, "client disconnect")

	if wasConnected {
		c.logger.Info("WebSocket client disconnected")
		c.notifyDisconnect(nil)
	}

	return nil
}

// Done returns a channel that is closed when the current connection ends.
// If the client has never connected, the returned channel is already closed.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// IsConnected reports whether the client currently has an open connection.
func (c *Client) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// cleanupWithStatus closes the socket, cancels the connection context and waits
// for the read loop. The close handshake must finish before the context is
// cancelled, otherwise the socket is dropped without a close frame.
func (c *Client) cleanupWithStatus(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(status, reason); err != nil {
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
		c.telemetry.RecordDisconnect(context.Background())
	}

	if cancel != nil {
		cancel()
	}

	if done != nil {
		<-done
	}

	atomic.StoreInt32(&c.started, 0)
	atomic.StoreInt32(&c.stopping, 0)
}

// handleConnectionError tears the connection down after a read or write failure
// and notifies the disconnect handlers with the error.
func (c *Client) handleConnectionError(err error) {
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return
	}
	atomic.StoreInt32(&c.connected, 0)

	// cleanup waits for the read loop, which may be the caller
	go func() {
		c.cleanupWithStatus(websocket.StatusInternalError, "connection error")
		c.notifyDisconnect(err)
	}()
}

func (c *Client) isStopping() bool {
	return atomic.LoadInt32(&c.stopping) == 1
}

func (c *Client) notifyDisconnect(err error) {
	for _, handler := range c.disconnectHandlers {
		handler(context.Background(), err)
	}
}

// Emit queues a named event for the server. It fails with ErrNotConnected
// unless a connection is established.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if atomic.LoadInt32(&c.connected) == 0 {
		return ErrNotConnected
	}

	msg, err := websockets.NewWireMessage(event, payload)
	if err != nil {
		return err
	}

	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	writeChannel, connCtx := c.writeChannel, c.ctx
	c.mu.RUnlock()

	if connCtx == nil || connCtx.Err() != nil {
		return ErrNotConnected
	}

	select {
	case writeChannel <- outboundFrame{event: event, data: data}:
		c.logger.Debug("Event queued", zap.String("event", event), zap.Int("size", len(data)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-connCtx.Done():
		return ErrNotConnected
	default:
		return fmt.Errorf("write channel is full")
	}
}

// readLoop processes incoming messages from the WebSocket
func (c *Client) readLoop(conn *websocket.Conn, ready, done chan struct{}) {
	defer close(done)

	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !c.isStopping() {
				if status := websocket.CloseStatus(err); status != -1 {
					c.logger.Info("WebSocket closed by server", zap.Int("close_status", int(status)))
				} else {
					c.logger.Error("Failed to read from WebSocket", zap.Error(err))
				}
				c.handleConnectionError(err)
			}
			return
		}

		c.handleMessage(ctx, data)
	}
}

// writeLoop processes outgoing messages to the WebSocket
func (c *Client) writeLoop(conn *websocket.Conn) {
	c.mu.RLock()
	ctx, writeChannel := c.ctx, c.writeChannel
	c.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-writeChannel:
			if err := conn.Write(ctx, websocket.MessageText, frame.data); err != nil {
				if ctx.Err() == nil && !c.isStopping() {
					c.logger.Error("Failed to write to WebSocket", zap.Error(err))
					c.handleConnectionError(err)
				}
				return
			}
			c.telemetry.RecordSent(ctx, frame.event)
		}
	}
}

// handleMessage decodes one frame and delivers it to the handlers registered for its event.
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	msg, err := websockets.DecodeWireMessage(data)
	if err != nil {
		c.logger.Warn("Failed to decode WebSocket message", zap.Error(err), zap.Int("data_length", len(data)))
		c.telemetry.RecordDecodeError(ctx)
		return
	}

	c.telemetry.RecordReceived(ctx, msg.Event)

	handlers := c.handlersFor(msg.Event)
	if len(handlers) == 0 {
		c.logger.Debug("No handler for event", zap.String("event", msg.Event))
		return
	}

	dispatchCtx, end := c.telemetry.StartDispatch(eventsock.WithEventName(ctx, msg.Event), msg.Event)
	var firstErr error
	for _, handler := range handlers {
		if err := handler(dispatchCtx, msg.Data); err != nil {
			c.logger.Warn("Event handler error", zap.String("event", msg.Event), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	end(firstErr)
}

// handlersFor returns the exact-name handlers for event followed by every
// matching pattern handler.
func (c *Client) handlersFor(event string) []eventsock.EventHandler {
	handlers := c.eventHandlers[event]
	if len(c.patternHandlers) == 0 {
		return handlers
	}

	matched := append([]eventsock.EventHandler(nil), handlers...)
	for _, ph := range c.patternHandlers {
		if mqttpattern.Matches(ph.pattern, event) {
			matched = append(matched, ph.handler)
		}
	}
	return matched
}
