package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(context.Background(), tracer, "run", otelhelper.RunIDKey.String("run-1"))
	otelhelper.SetError(span, errors.New("boom"), otelhelper.StepIDKey.String("s1"))
	span.End()

	_, other := otelhelper.StartSpan(context.Background(), tracer, "step")
	otelhelper.SetFailure(other, "template missing")
	other.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "run", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), otelhelper.RunIDKey.String("run-1"))

	assert.Equal(t, "template missing", spans[1].Status().Description)
}

func TestTracer_NoopByDefault(t *testing.T) {
	_, span := otelhelper.Tracer().Start(context.Background(), "noop")
	defer span.End()

	assert.NotNil(t, span)
}
