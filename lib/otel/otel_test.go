package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	meter, handler, shutdown, err := Setup(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, meter)
	assert.Nil(t, handler, "no export means no bridged slog handler")
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupInstallsTracerProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	meter, handler, shutdown, err := Setup(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, meter)
	assert.NotNil(t, handler)

	// The HTTP middleware resolves its tracer from the global provider;
	// Setup must install the SDK one, not leave the no-op default.
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "global tracer provider should be the SDK provider")

	// Nothing listens on the endpoint; flush errors on shutdown are fine.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
