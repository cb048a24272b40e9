// Package greeter announces a client to the server as soon as it connects and
// echoes every response the server sends back to a diagnostic output.
//
// On connect the client emits "my event" with {"data": "I'm connected!"}.
// Every "my response" event is written verbatim, one per line.
package greeter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tsarna/eventsock/pkg/eventsock"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/client"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/server"
	"go.uber.org/zap"
)

const (
	// GreetingEvent is emitted once per connection.
	GreetingEvent = "my event"
	// ResponseEvent carries the server's answers.
	ResponseEvent = "my response"
)

// Greeting is the payload of GreetingEvent.
type Greeting struct {
	Data string `json:"data"`
}

// DefaultGreeting is the payload sent when a connection opens.
var DefaultGreeting = Greeting{Data: "I'm connected!"}

// Greeter holds the two client-side handlers.
type Greeter struct {
	out    io.Writer
	logger *zap.Logger
	mu     sync.Mutex // serializes writes to out
}

// New creates a Greeter writing responses to out, or to stdout when out is nil.
func New(out io.Writer, logger *zap.Logger) *Greeter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Greeter{out: out, logger: logger}
}

// OnConnect emits the greeting on the freshly opened connection.
func (g *Greeter) OnConnect(ctx context.Context, emitter eventsock.Emitter) error {
	if err := emitter.Emit(ctx, GreetingEvent, DefaultGreeting); err != nil {
		return fmt.Errorf("failed to emit %q: %w", GreetingEvent, err)
	}
	g.logger.Debug("Greeting sent", zap.String("event", GreetingEvent), zap.String("data", DefaultGreeting.Data))
	return nil
}

// OnResponse writes the payload, unmodified, followed by a newline.
func (g *Greeter) OnResponse(ctx context.Context, payload json.RawMessage) error {
	g.logger.Info("Response received", zap.String("event", ResponseEvent), zap.ByteString("payload", payload))

	g.mu.Lock()
	defer g.mu.Unlock()

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	if _, err := g.out.Write(line); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// Attach registers the greeter's handlers on a client builder.
func (g *Greeter) Attach(b *client.ClientBuilder) *client.ClientBuilder {
	return b.OnConnect(g.OnConnect).On(ResponseEvent, g.OnResponse)
}

// Respond is the server-side counterpart: it answers a greeting by emitting
// ResponseEvent with the payload it received.
func Respond(ctx context.Context, conn *server.Connection, payload json.RawMessage) error {
	return conn.Emit(ctx, ResponseEvent, payload)
}

// AttachResponder registers Respond for GreetingEvent on a listener configuration.
func AttachResponder(c *server.ListenerConfig) *server.ListenerConfig {
	return c.Handle(GreetingEvent, Respond)
}
