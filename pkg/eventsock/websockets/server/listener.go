package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Listener accepts WebSocket connections and dispatches their events to the
// configured handlers. It tracks live connections for graceful shutdown.
type Listener struct {
	logger *zap.Logger
	config *ListenerConfig

	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		logger:      config.logger,
		config:      config,
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// ServeWebsocket upgrades the request to a WebSocket connection and serves it
// until it closes. It can be plugged directly into an HTTP router.
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	if l.config.authorizer != nil {
		if err := l.config.authorizer(r); err != nil {
			l.logger.Warn("Rejecting unauthorized WebSocket request",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeUnauthorized(w, err)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
	}

	connection := newConnection(r.Context(), conn, l.config)

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()

	l.logger.Debug("WebSocket connection established",
		zap.String("connection_id", connection.ID()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)

	// Blocks until the connection closes
	connection.Start()

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()

	l.logger.Debug("WebSocket connection removed from tracking",
		zap.String("connection_id", connection.ID()),
		zap.Int("active_connections", connCount),
	)
}

// Shutdown stops accepting connections, closes the active ones with
// StatusGoingAway and waits until they are gone or ctx is done.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful WebSocket shutdown")
		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			l.logger.Info("No active connections to close")
			return
		}

		l.logger.Info("Closing active WebSocket connections",
			zap.Int("connection_count", len(connections)),
		)

		for _, conn := range connections {
			go conn.shutdownClose(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			l.logger.Info("All WebSocket connections closed")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the current number of active WebSocket connections.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}
