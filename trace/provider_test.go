package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewProviderInstallsGlobalProvider(t *testing.T) {
	p, err := NewProvider("go-relay", "test", "test", 1)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Shutdown(context.Background()))
	}()

	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())

	_, span := otel.Tracer("provider-test").Start(context.Background(), "op")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
}

func TestNewProviderClampsSampleRate(t *testing.T) {
	p, err := NewProvider("go-relay", "test", "test", -3)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Shutdown(context.Background()))
	}()

	_, span := otel.Tracer("provider-test").Start(context.Background(), "op")
	defer span.End()

	assert.False(t, span.SpanContext().IsSampled())
}
