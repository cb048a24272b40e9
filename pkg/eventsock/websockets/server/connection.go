package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/eventsock/pkg/eventsock"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned by Emit once the connection has ended.
var ErrConnectionClosed = errors.New("connection is closed")

type outboundFrame struct {
	event string
	data  []byte
}

// Connection is a single accepted WebSocket connection. Inbound events are
// dispatched serially on the goroutine that called Start; outbound events are
// queued and written by a separate sender goroutine.
type Connection struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	logger *zap.Logger
	config *ListenerConfig

	outbound chan outboundFrame
	done     chan struct{}

	cleanupOnce sync.Once
}

var _ eventsock.Emitter = (*Connection)(nil)

func newConnection(ctx context.Context, conn *websocket.Conn, config *ListenerConfig) *Connection {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)

	return &Connection{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		logger:   config.logger.With(zap.String("connection_id", id)),
		config:   config,
		outbound: make(chan outboundFrame, config.queueSize),
		done:     make(chan struct{}),
	}
}

// ID returns the unique identifier assigned to the connection when it was accepted.
func (c *Connection) ID() string {
	return c.id
}

// Start serves the connection and blocks until it closes.
func (c *Connection) Start() {
	c.config.telemetry.RecordConnect(c.ctx)
	defer c.config.telemetry.RecordDisconnect(context.Background())

	go c.messageSender()

	for _, handler := range c.config.connectHandlers {
		if err := handler(c.ctx, c); err != nil {
			c.logger.Warn("Connect handler error", zap.Error(err))
		}
	}

	c.messageReader()

	c.logger.Debug("WebSocket connection handler stopping")
	c.cleanup()
}

// Emit queues a named event for the client.
func (c *Connection) Emit(ctx context.Context, event string, payload any) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	msg, err := websockets.NewWireMessage(event, payload)
	if err != nil {
		return err
	}

	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case c.outbound <- outboundFrame{event: event, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("Outbound queue full, dropping event", zap.String("event", event))
		return fmt.Errorf("outbound queue is full")
	}
}

// messageSender serializes all writes to the socket and sends periodic pings.
func (c *Connection) messageSender() {
	defer c.logger.Debug("Message sender goroutine stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case frame := <-c.outbound:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame.data)
			cancel()

			if err != nil {
				c.logger.Error("Failed to send WebSocket message",
					zap.Error(err),
					zap.String("event", frame.event),
				)
				c.cancel()
				return
			}
			c.config.telemetry.RecordSent(c.ctx, frame.event)

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			if err != nil {
				c.logger.Debug("Ping failed, closing connection", zap.Error(err))
				c.cancel()
				return
			}

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// messageReader reads frames until the connection closes. When pings are
// enabled they detect dead peers; otherwise each read is bounded by the read timeout.
func (c *Connection) messageReader() {
	defer c.logger.Debug("Message reader stopped")

	c.conn.SetReadLimit(c.config.readLimit)

	for {
		readCtx, cancel := c.ctx, context.CancelFunc(func() {})
		if c.config.pingInterval == 0 {
			readCtx, cancel = context.WithTimeout(c.ctx, c.config.readTimeout)
		}

		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("WebSocket connection closed by client",
					zap.Int("close_status", int(status)),
				)
			} else if c.ctx.Err() == nil {
				c.logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if len(data) == 0 {
			c.logger.Debug("Received empty WebSocket message, ignoring")
			continue
		}

		c.handleFrame(data)
	}
}

func (c *Connection) handleFrame(data []byte) {
	msg, err := websockets.DecodeWireMessage(data)
	if err != nil {
		c.logger.Warn("Failed to parse incoming WebSocket message",
			zap.Error(err),
			zap.Int("data_length", len(data)),
		)
		c.config.telemetry.RecordDecodeError(c.ctx)
		return
	}

	c.config.telemetry.RecordReceived(c.ctx, msg.Event)
	c.logger.Debug("Received event", zap.String("event", msg.Event))

	authorized, err := c.config.eventAuth(c.ctx, &msg)
	if err != nil {
		c.logger.Warn("Event refused", zap.String("event", msg.Event), zap.Error(err))
		c.refuse(msg.Event, err)
		return
	}
	if authorized == nil {
		c.logger.Debug("Event dropped", zap.String("event", msg.Event))
		return
	}
	msg = *authorized

	handlers := c.config.handlers[msg.Event]
	if len(handlers) == 0 {
		c.logger.Debug("No handler for event", zap.String("event", msg.Event))
		return
	}

	ctx, end := c.config.telemetry.StartDispatch(eventsock.WithEventName(c.ctx, msg.Event), msg.Event)
	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, c, msg.Data); err != nil {
			c.logger.Warn("Event handler error", zap.String("event", msg.Event), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	end(firstErr)
}

func (c *Connection) refuse(event string, reason error) {
	payload := websockets.ErrorPayload{Event: event, Error: reason.Error()}
	if err := c.Emit(c.ctx, websockets.ErrorEvent, payload); err != nil {
		c.logger.Debug("Failed to report refused event", zap.Error(err))
	}
}

// cleanup stops the sender and closes the socket. Safe to call more than once.
func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		close(c.done)

		if err := c.conn.Close(websocket.StatusNormalClosure, "Connection closed"); err != nil {
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
		c.cancel()
	})
}

// shutdownClose closes the socket with the given status; the reader then
// exits and Start performs the normal cleanup.
func (c *Connection) shutdownClose(code websocket.StatusCode, reason string) {
	c.logger.Debug("Closing connection for shutdown",
		zap.Int("close_code", int(code)),
		zap.String("reason", reason),
	)

	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}
