package telemetry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(Config{}).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(Config{Sampler: "never"}).Description())
	assert.Contains(t, sampler(Config{Sampler: "ratio", Ratio: 0.5}).Description(), "TraceIDRatioBased")
}

func TestWithSpanRecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	require.NoError(t, WithSpan(ctx, "build.render", func(ctx context.Context) error {
		SetAttributes(ctx, attribute.Int("files", 3))
		AddEvent(ctx, "rendered")
		return nil
	}, attribute.String("provider", "claude")))

	boom := errors.New("boom")
	assert.ErrorIs(t, WithSpan(ctx, "build.write", func(context.Context) error { return boom }), boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "build.render", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
