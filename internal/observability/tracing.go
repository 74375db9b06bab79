package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures OpenTelemetry export.
type TraceConfig struct {
	// ServiceName identifies this process in traces.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is stamped on every exported span.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Endpoint is the OTLP gRPC collector address ("localhost:4317").
	// Empty disables export and produces a no-op tracer.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the recorded fraction of traces, 0.0 to 1.0.
	// Zero means record everything.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// NewTracer wires an OTLP-exporting tracer and returns it with a shutdown
// function to flush pending spans on exit. With no endpoint configured the
// returned tracer records nothing and shutdown is a no-op.
func NewTracer(config TraceConfig) (trace.Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "shepherd"
	}
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return otel.Tracer(config.ServiceName), noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return otel.Tracer(config.ServiceName), noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0 || config.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Tracer(config.ServiceName), provider.Shutdown
}
