package eventsock

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingHandler wraps an EventHandler and logs every event it sees.
// If wrapped is nil, it acts as a standalone logging handler. event is the
// name or pattern the handler is registered for; the dispatched name is
// taken from ctx when present.
func LoggingHandler(wrapped EventHandler, logger *zap.Logger, level zapcore.Level, event string) EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, payload json.RawMessage) error {
		fields := []zap.Field{
			zap.String("event", event),
			zap.ByteString("payload", payload),
			zap.Int("size", len(payload)),
			zap.Bool("hasWrapped", wrapped != nil),
		}
		if name, ok := EventName(ctx); ok && name != event {
			fields[0] = zap.String("event", name)
			fields = append(fields, zap.String("pattern", event))
		}
		logger.Log(level, "Event received", fields...)

		if wrapped != nil {
			return wrapped(ctx, payload)
		}

		return nil
	}
}
