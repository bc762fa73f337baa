package telemetry

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/example/aivenapp-conversion-webhook/internal/config"
)

// NewTracerProvider returns a tracer provider exporting spans over OTLP/HTTP.
// When no endpoint is configured a noop provider is returned and nothing is
// exported. The returned shutdown function flushes pending spans.
//
// The provider is not installed globally; callers pass it to whatever needs it.
func NewTracerProvider(ctx context.Context, log logr.Logger, cfg config.OTLPConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		log.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set; spans will not be exported")
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg)),
	)

	log.Info("Tracing initialized", "endpoint", cfg.Endpoint)
	return tp, tp.Shutdown, nil
}

func newResource(cfg config.OTLPConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
	)
}
