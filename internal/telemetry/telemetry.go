// Package telemetry initializes OpenTelemetry tracing for the
// scheduler process, adapted from the reference control-plane's
// telemetry bootstrap to the MonitoringConfig.TracingSample knob.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/agentoven/monitor-core/internal/config"
)

// Settings carries the process-identity fields not part of the
// validated ClientConfig tree.
type Settings struct {
	ServiceName  string
	OTLPEndpoint string
}

// Init sets up OpenTelemetry tracing with an OTLP/gRPC exporter,
// sampling at mon.TracingSample. It is a no-op when no endpoint is
// configured or the sample rate is zero. Returns a shutdown function to
// call on graceful shutdown.
func Init(s Settings, mon config.MonitoringConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if s.OTLPEndpoint == "" || mon.TracingSample <= 0 {
		log.Info().Msg("tracing disabled")
		return noop, nil
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(s.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", s.ServiceName),
			attribute.String("service.version", "0.1.0"),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(mon.TracingSample)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", s.OTLPEndpoint).
		Str("service", s.ServiceName).
		Float64("sample_rate", mon.TracingSample).
		Msg("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}
