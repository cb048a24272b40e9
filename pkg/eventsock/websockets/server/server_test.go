package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"go.uber.org/zap"
)

func TestListenerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config := NewListenerConfig()

		assert.Equal(t, DefaultQueueSize, config.queueSize)
		assert.Equal(t, DefaultPingInterval, config.pingInterval)
		assert.Equal(t, DefaultReadTimeout, config.readTimeout)
		assert.Equal(t, DefaultWriteTimeout, config.writeTimeout)
		assert.Equal(t, int64(DefaultReadLimit), config.readLimit)
		assert.NotNil(t, config.eventAuth)
		assert.Nil(t, config.authorizer)
		assert.Empty(t, config.handlers)
	})

	t.Run("logger is required", func(t *testing.T) {
		_, err := NewListenerConfig().Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing: [Logger]")
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		config := NewListenerConfig().
			WithQueueSize(0).
			WithPingInterval(-time.Second).
			WithReadTimeout(0).
			WithWriteTimeout(-time.Second).
			WithReadLimit(0).
			WithEventAuth(nil)

		assert.Equal(t, DefaultQueueSize, config.queueSize)
		assert.Equal(t, DefaultPingInterval, config.pingInterval)
		assert.Equal(t, DefaultReadTimeout, config.readTimeout)
		assert.Equal(t, DefaultWriteTimeout, config.writeTimeout)
		assert.Equal(t, int64(DefaultReadLimit), config.readLimit)
		assert.NotNil(t, config.eventAuth)
	})

	t.Run("zero ping interval disables pings", func(t *testing.T) {
		config := NewListenerConfig().WithPingInterval(0)
		assert.Equal(t, time.Duration(0), config.pingInterval)
	})

	t.Run("handlers accumulate per event", func(t *testing.T) {
		h := func(ctx context.Context, conn *Connection, payload json.RawMessage) error { return nil }
		config := NewListenerConfig().
			Handle("a", h).
			Handle("a", h).
			Handle("b", h).
			Handle("c", nil).
			OnConnect(nil)

		assert.Len(t, config.handlers["a"], 2)
		assert.Len(t, config.handlers["b"], 1)
		assert.Empty(t, config.handlers["c"])
		assert.Empty(t, config.connectHandlers)
	})
}

func TestRouter(t *testing.T) {
	listener, err := NewListenerConfig().WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)

	ts := httptest.NewServer(NewRouter("", listener, nil))
	defer ts.Close()

	t.Run("welcome page", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, WelcomeText, string(body))
	})

	t.Run("plain GET on websocket path is rejected", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/ws")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	})

	t.Run("unknown path", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestConnectionRoundTrip(t *testing.T) {
	listener, url := startTestServer(t, NewListenerConfig().
		Handle("echo", func(ctx context.Context, conn *Connection, payload json.RawMessage) error {
			return conn.Emit(ctx, "echoed", payload)
		}).
		Handle("echo", func(ctx context.Context, conn *Connection, payload json.RawMessage) error {
			return errors.New("later handler errors are logged only")
		}))

	conn := dial(t, url)

	// malformed and unknown frames do not end the connection
	writeText(t, conn, `garbage`)
	writeText(t, conn, `{"e":"nobody listens"}`)
	writeText(t, conn, `{"e":"echo","d":{"data":"I'm connected!"}}`)

	msg := readMessage(t, conn)
	assert.Equal(t, "echoed", msg.Event)
	assert.Equal(t, `{"data":"I'm connected!"}`, string(msg.Data))

	assert.Equal(t, 1, listener.ConnectionCount())
}

func TestHandshakeAuthorization(t *testing.T) {
	_, url := startTestServer(t, NewListenerConfig().WithAuthorizer(RequireBearerToken("s3cret")))

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "token is missing"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "invalid token scheme"},
		{"wrong token", "Bearer guess", "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
			if tt.header != "" {
				opts.HTTPHeader.Set("Authorization", tt.header)
			}

			_, resp, err := websocket.Dial(ctx, url, opts)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.want, body["error"])
		})
	}

	t.Run("valid token", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer s3cret"}},
		})
		require.NoError(t, err)
		conn.CloseNow()
	})
}

func TestEventAuthorization(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	record := func(ctx context.Context, conn *Connection, payload json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(payload))
		return conn.Emit(ctx, "handled", payload)
	}

	_, url := startTestServer(t, NewListenerConfig().
		WithEventAuth(ChainEventAuth(
			AllowEventPatterns("my event", "quiet/#"),
			func(ctx context.Context, msg *websockets.WireMessage) (*websockets.WireMessage, error) {
				if msg.Event == "quiet/drop" {
					return nil, nil
				}
				return msg, nil
			},
		)).
		Handle("my event", record).
		Handle("quiet/drop", record).
		Handle("other", record))

	conn := dial(t, url)

	writeText(t, conn, `{"e":"other","d":1}`)
	msg := readMessage(t, conn)
	assert.Equal(t, websockets.ErrorEvent, msg.Event)

	var refused websockets.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &refused))
	assert.Equal(t, "other", refused.Event)
	assert.Contains(t, refused.Error, "not allowed")

	writeText(t, conn, `{"e":"quiet/drop","d":2}`)
	writeText(t, conn, `{"e":"my event","d":3}`)
	msg = readMessage(t, conn)
	assert.Equal(t, "handled", msg.Event)
	assert.Equal(t, `3`, string(msg.Data))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"3"}, handled)
}

func TestReadLimit(t *testing.T) {
	big := `"` + strings.Repeat("x", 40000) + `"`

	t.Run("default limit accepts frames over 32 KiB", func(t *testing.T) {
		_, url := startTestServer(t, NewListenerConfig().
			Handle("big", func(ctx context.Context, conn *Connection, payload json.RawMessage) error {
				return conn.Emit(ctx, "size", len(payload))
			}))

		conn := dial(t, url)
		writeText(t, conn, `{"e":"big","d":`+big+`}`)

		msg := readMessage(t, conn)
		assert.Equal(t, "size", msg.Event)
		assert.Equal(t, "40002", string(msg.Data))
	})

	t.Run("smaller limit closes the connection", func(t *testing.T) {
		_, url := startTestServer(t, NewListenerConfig().WithReadLimit(1024))

		conn := dial(t, url)
		writeText(t, conn, `{"e":"big","d":`+big+`}`)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
	})
}

func TestConnectHandlers(t *testing.T) {
	var mu sync.Mutex
	var ids []string

	_, url := startTestServer(t, NewListenerConfig().
		OnConnect(func(ctx context.Context, conn *Connection) error {
			mu.Lock()
			ids = append(ids, conn.ID())
			mu.Unlock()
			return conn.Emit(ctx, "welcome", map[string]string{"id": conn.ID()})
		}))

	first := dial(t, url)
	second := dial(t, url)

	msg1 := readMessage(t, first)
	msg2 := readMessage(t, second)
	assert.Equal(t, "welcome", msg1.Event)
	assert.Equal(t, "welcome", msg2.Event)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEmpty(t, ids[0])
}

func TestListenerShutdown(t *testing.T) {
	listener, url := startTestServer(t, NewListenerConfig())

	conn := dial(t, url)
	require.Eventually(t, func() bool { return listener.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// the close handshake needs a reader on the client side
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	require.NoError(t, listener.Shutdown(ctx))
	assert.Equal(t, 0, listener.ConnectionCount())

	err := <-readErr
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	t.Run("new connections are refused", func(t *testing.T) {
		late := dial(t, url)
		_, _, err := late.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, websocket.StatusServiceRestart, websocket.CloseStatus(err))
	})

	t.Run("shutdown is idempotent", func(t *testing.T) {
		assert.NoError(t, listener.Shutdown(ctx))
	})
}

func TestEmitAfterClose(t *testing.T) {
	closed := make(chan *Connection, 1)
	_, url := startTestServer(t, NewListenerConfig().
		OnConnect(func(ctx context.Context, conn *Connection) error {
			go func() {
				<-conn.done
				closed <- conn
			}()
			return nil
		}))

	conn := dial(t, url)
	conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case c := <-closed:
		assert.ErrorIs(t, c.Emit(context.Background(), "late", nil), ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close")
	}
}

func startTestServer(t *testing.T, config *ListenerConfig) (*Listener, string) {
	t.Helper()

	listener, err := config.WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)

	ts := httptest.NewServer(NewRouter("/ws", listener, zap.NewNop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		listener.Shutdown(ctx)
		ts.Close()
	})

	return listener, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	return conn
}

func writeText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
}

func readMessage(t *testing.T, conn *websocket.Conn) websockets.WireMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	msg, err := websockets.DecodeWireMessage(data)
	require.NoError(t, err)
	return msg
}
