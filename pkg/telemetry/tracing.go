// Package telemetry wires OpenTelemetry tracing around the build and install
// pipelines. Tracing is off unless enabled in primforge.yaml; spans are then
// exported over OTLP/HTTP using the standard OTEL_EXPORTER_OTLP_* variables.
package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer every primforge span is created with
const TracerName = "primforge"

// Config controls tracer setup
type Config struct {
	Enabled        bool
	ServiceVersion string
	Sampler        string // always, never or ratio
	Ratio          float64
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider. With tracing disabled it installs
// nothing and returns a no-op shutdown.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(TracerName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace resource")
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithBatchTimeout(time.Second))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		var result *multierror.Error
		if err := provider.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		if err := exporter.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}, nil
}

func sampler(cfg Config) sdktrace.Sampler {
	switch cfg.Sampler {
	case "never":
		return sdktrace.NeverSample()
	case "ratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Ratio))
	default:
		return sdktrace.AlwaysSample()
	}
}

// Tracer returns the primforge tracer from the global provider
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// WithSpan runs f inside a span, recording its error as the span status
func WithSpan(ctx context.Context, name string, f func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	if err := f(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// SetAttributes adds attributes to the span in ctx
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddEvent records an event on the span in ctx
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
