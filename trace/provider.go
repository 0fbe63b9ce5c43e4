package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

// Provider owns the process-wide OpenTelemetry tracer provider. The relay
// creates spans for message consumption, publishing, and outbound HTTP calls;
// the provider gives them service identity and sampling. No exporter is
// attached, so spans stay in-process unless one is registered on the
// underlying provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider creates a tracer provider with service identity attributes and
// a ratio-based sampler, and installs it as the global provider. sampleRate
// is clamped to [0, 1]; pass 1 to record every trace.
func NewProvider(serviceName, serviceVersion, environment string, sampleRate float64) (*Provider, error) {
	if sampleRate < 0 {
		sampleRate = 0
	}
	if sampleRate > 1 {
		sampleRate = 1
	}

	// Custom attributes carry no schema URL to avoid conflicts with the
	// default resource on merge.
	custom, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	res, err := sdkresource.Merge(sdkresource.Default(), custom)
	if err != nil {
		return nil, fmt.Errorf("merge resources: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// TracerProvider returns the underlying SDK provider, e.g. to register a span
// processor.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
