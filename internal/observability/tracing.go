// Package observability provides OpenTelemetry tracing and Prometheus metrics
// for snapcheck runs.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the snapcheck tracer.
const TracerName = "github.com/efebarandurmaz/snapcheck"

// Tracing holds the span export settings.
type Tracing struct {
	ServiceVersion string
	Environment    string
	// Endpoint is an OTLP gRPC collector address. Empty keeps the global
	// no-op provider.
	Endpoint   string
	SampleRate float64
}

// StartTracing installs a global provider that exports spans to t.Endpoint
// and returns its shutdown function.
func StartTracing(ctx context.Context, t Tracing) (func(context.Context) error, error) {
	if t.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(t.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter %s: %w", t.Endpoint, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("snapcheck"),
		semconv.ServiceVersion(t.ServiceVersion),
		semconv.DeploymentEnvironment(t.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}

// Span kinds for snapcheck operations.
const (
	SpanKindRun      = "run"
	SpanKindStep     = "step"
	SpanKindRecovery = "recovery"
)

// StartRunSpan starts the root span of one round-trip run.
func StartRunSpan(ctx context.Context, runID, source string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "snapcheck.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("snapcheck.span.kind", SpanKindRun),
			attribute.String("snapcheck.run_id", runID),
			attribute.String("snapcheck.source", source),
		),
	)
}

// StartStepSpan starts a span for one orchestrator step.
func StartStepSpan(ctx context.Context, step, state string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("step.%s", step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("snapcheck.span.kind", SpanKindStep),
			attribute.String("step.name", step),
			attribute.String("step.state", state),
		),
	)
}

// StartRecoverySpan starts a client span for one recovery call.
func StartRecoverySpan(ctx context.Context, target, method string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("recover.%s", method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("snapcheck.span.kind", SpanKindRecovery),
			attribute.String("recovery.target", target),
			attribute.String("recovery.method", method),
		),
	)
}

// RecordSnapshot records the snapshot a run produced.
func RecordSnapshot(span trace.Span, name string, size int64) {
	span.SetAttributes(
		attribute.String("snapshot.name", name),
		attribute.Int64("snapshot.bytes", size),
	)
}

// RecordStepResult records the outcome of a step on its span.
func RecordStepResult(span trace.Span, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.Int64("step.duration_ms", duration.Milliseconds()),
		attribute.Bool("step.passed", err == nil),
	)
	RecordError(span, err)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
