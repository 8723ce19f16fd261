// Package telemetry initializes OpenTelemetry tracing for a consumer
// process. Spans started by pkg/consumer's instrumented processor export
// through the provider set up here, and trace ids are correlated into logs
// via pkg/logger.
//
// Usage:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{Queue: "orders"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shutdown(context.Background())
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.16.0"

	"github.com/joevandyk/beetle/pkg/errors"
)

// Config holds configuration for OpenTelemetry.
type Config struct {
	// Enabled turns exporting on. When false, Init installs nothing and
	// the instrumented wrappers fall back to the global no-op tracer.
	Enabled bool `env:"OTEL_ENABLED" env-default:"true"`

	// ServiceName identifies this consumer in traces.
	ServiceName string `env:"OTEL_SERVICE_NAME" env-default:"beetle-consumer"`

	// ServiceVersion is the version of this service.
	ServiceVersion string `env:"OTEL_SERVICE_VERSION" env-default:"0.0.1"`

	// Environment is the deployment environment (development, staging, production).
	Environment string `env:"APP_ENV" env-default:"development"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`

	// SampleRatio is the fraction of message-processing traces kept.
	// A ratio strictly between 0 and 1 samples parent-based, honoring the
	// parent's decision; 1.0 and above, or 0 and below, keep every trace
	// regardless of the parent.
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" env-default:"1.0"`

	// Queue tags every trace with the queue this consumer serves, so one
	// collector can split traffic from a fleet of consumers.
	Queue string `env:"BEETLE_QUEUE"`
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global tracer provider and propagators and returns a
// shutdown function. With Enabled false it is a no-op.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := consumerResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(), // Use WithInsecure for now; in prod, configure TLS
	)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable, "failed to create trace exporter", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	// Set global propagator to tracecontext (the default is no-op).
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// consumerResource describes this consumer process: service identity plus
// the messaging attributes the instrumented processor spans hang off.
func consumerResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		semconv.MessagingSystemKey.String("rabbitmq"),
	}
	if cfg.Queue != "" {
		attrs = append(attrs, semconv.MessagingDestinationKey.String(cfg.Queue))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create resource", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1.0 || ratio <= 0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
