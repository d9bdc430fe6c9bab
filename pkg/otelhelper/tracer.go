// Package otelhelper sets up OpenTelemetry tracing for the autoflow binaries.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "github.com/dukex/autoflow"

const (
	OrganizationIDKey = attribute.Key("autoflow.organization.id")
	RuleIDKey         = attribute.Key("autoflow.rule.id")
	RunIDKey          = attribute.Key("autoflow.run.id")
	RunStatusKey      = attribute.Key("autoflow.run.status")
	TriggerTypeKey    = attribute.Key("autoflow.trigger.type")
	EventIDKey        = attribute.Key("autoflow.event.id")
	StepIDKey         = attribute.Key("autoflow.step.id")
	StepTypeKey       = attribute.Key("autoflow.step.type")
	ActionTypeKey     = attribute.Key("autoflow.action.type")
	WorkerIDKey       = attribute.Key("autoflow.worker.id")
)

// InitTracer installs a global OTLP/HTTP tracer provider. The returned function flushes and stops it.
func InitTracer(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Shutdown, nil
}

// Tracer returns the package tracer from the global provider, a no-op until InitTracer runs.
// nolint:ireturn
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
