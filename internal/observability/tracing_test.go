package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartTracing_NoEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	shutdown, err := StartTracing(context.Background(), Tracing{SampleRate: 1})
	require.NoError(t, err)
	assert.Same(t, prev, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartTracing_Exporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := StartTracing(context.Background(), Tracing{Endpoint: "127.0.0.1:4317", SampleRate: 0.5})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestStepSpans_NestUnderRun(t *testing.T) {
	rec := recordSpans(t)
	ctx := context.Background()

	ctx, run := StartRunSpan(ctx, "run-1", "cities")
	_, step := StartStepSpan(ctx, "create_snapshot", "SnapshotCreated")
	RecordSnapshot(step, "cities-1.snapshot", 512)
	RecordStepResult(step, 12*time.Millisecond, nil)
	step.End()
	run.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "step.create_snapshot", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	a := attrs(spans[0])
	assert.Equal(t, "SnapshotCreated", a["step.state"].AsString())
	assert.Equal(t, "cities-1.snapshot", a["snapshot.name"].AsString())
	assert.True(t, a["step.passed"].AsBool())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestRecordStepResult_Error(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartRecoverySpan(context.Background(), "cities_r2", "upload")
	RecordStepResult(span, time.Millisecond, errors.New("status 500"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "recover.upload", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "status 500", spans[0].Status().Description)
	assert.False(t, attrs(spans[0])["step.passed"].AsBool())
	require.Len(t, spans[0].Events(), 1)
}

func TestRecordError_Nil(t *testing.T) {
	rec := recordSpans(t)
	_, span := StartStepSpan(context.Background(), "verify", "Verified")
	RecordError(span, nil)
	span.End()
	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}
