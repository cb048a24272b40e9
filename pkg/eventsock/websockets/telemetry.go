package websockets

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the meter and tracer name used by NewTelemetry.
const InstrumentationName = "github.com/tsarna/eventsock"

// Telemetry records event traffic through OpenTelemetry.
// All methods are safe to call on a nil *Telemetry, which records nothing.
type Telemetry struct {
	side string // "client" or "server"

	eventsSent        metric.Int64Counter
	eventsReceived    metric.Int64Counter
	decodeErrors      metric.Int64Counter
	totalConnections  metric.Int64Counter
	activeConnections metric.Int64UpDownCounter

	tracer trace.Tracer
}

// NewTelemetry creates Telemetry backed by the global OpenTelemetry providers.
func NewTelemetry(side, version string) *Telemetry {
	return NewTelemetryFrom(
		otel.Meter(InstrumentationName, metric.WithInstrumentationVersion(version)),
		otel.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version)),
		side,
	)
}

// NewTelemetryFrom creates Telemetry from an explicit meter and tracer.
func NewTelemetryFrom(meter metric.Meter, tracer trace.Tracer, side string) *Telemetry {
	t := &Telemetry{side: side, tracer: tracer}

	// Instrument creation only fails for invalid names; a nil instrument is skipped below.
	t.eventsSent, _ = meter.Int64Counter("eventsock_events_sent_total",
		metric.WithDescription("Events written to the connection"))
	t.eventsReceived, _ = meter.Int64Counter("eventsock_events_received_total",
		metric.WithDescription("Events read from the connection"))
	t.decodeErrors, _ = meter.Int64Counter("eventsock_decode_errors_total",
		metric.WithDescription("Frames that could not be decoded"))
	t.totalConnections, _ = meter.Int64Counter("eventsock_connections_total",
		metric.WithDescription("Connections established"))
	t.activeConnections, _ = meter.Int64UpDownCounter("eventsock_active_connections",
		metric.WithDescription("Currently open connections"))

	return t
}

func (t *Telemetry) attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("side", t.side)}, kv...)...)
}

// RecordSent records one event written to the connection.
func (t *Telemetry) RecordSent(ctx context.Context, event string) {
	if t == nil || t.eventsSent == nil {
		return
	}
	t.eventsSent.Add(ctx, 1, t.attrs(attribute.String("event", event)))
}

// RecordReceived records one event read from the connection.
func (t *Telemetry) RecordReceived(ctx context.Context, event string) {
	if t == nil || t.eventsReceived == nil {
		return
	}
	t.eventsReceived.Add(ctx, 1, t.attrs(attribute.String("event", event)))
}

// RecordDecodeError records a frame that was not a valid event.
func (t *Telemetry) RecordDecodeError(ctx context.Context) {
	if t == nil || t.decodeErrors == nil {
		return
	}
	t.decodeErrors.Add(ctx, 1, t.attrs())
}

// RecordConnect records a newly established connection.
func (t *Telemetry) RecordConnect(ctx context.Context) {
	if t == nil {
		return
	}
	if t.totalConnections != nil {
		t.totalConnections.Add(ctx, 1, t.attrs())
	}
	if t.activeConnections != nil {
		t.activeConnections.Add(ctx, 1, t.attrs())
	}
}

// RecordDisconnect records the end of a connection.
func (t *Telemetry) RecordDisconnect(ctx context.Context) {
	if t == nil || t.activeConnections == nil {
		return
	}
	t.activeConnections.Add(ctx, -1, t.attrs())
}

// StartDispatch starts a span covering delivery of one inbound event to its handlers.
// The returned function ends the span, marking it failed when err is non-nil.
func (t *Telemetry) StartDispatch(ctx context.Context, event string) (context.Context, func(err error)) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := t.tracer.Start(ctx, "eventsock.dispatch",
		trace.WithAttributes(
			attribute.String("side", t.side),
			attribute.String("event", event),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
