package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "factor-heston-sim"

// Tracer wraps OpenTelemetry tracing for the simulation pipeline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewNoopTracer returns a Tracer whose spans are never recorded.
func NewNoopTracer() *Tracer {
	return &Tracer{
		tracer: noop.NewTracerProvider().Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context. A nil
// Tracer behaves like a no-op tracer.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := trace.Tracer(noop.NewTracerProvider().Tracer(tracerName))
	if t != nil {
		tr = t.tracer
	}
	return tr.Start(ctx, fmt.Sprintf("simulation.%s", name),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for simulation tracing.
var (
	AttrRunID      = attribute.Key("simulation.run.id")
	AttrEngine     = attribute.Key("simulation.engine")
	AttrDuration   = attribute.Key("simulation.duration")
	AttrNumAssets  = attribute.Key("simulation.num_assets")
	AttrExitCode   = attribute.Key("simulation.exit_code")
	AttrDurationMS = attribute.Key("simulation.duration_ms")
)
