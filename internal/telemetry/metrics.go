package telemetry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/example/aivenapp-conversion-webhook/internal/config"
)

// MetricExportInterval is how often HTTP metrics are pushed to the collector.
const MetricExportInterval = 30 * time.Second

// NewMeterProvider returns a meter provider that pushes HTTP server metrics over
// OTLP/HTTP every MetricExportInterval. Without an endpoint, or when the
// exporter cannot be built, metrics are recorded by a noop provider and never
// leave the process. Metric export is never a startup error.
func NewMeterProvider(ctx context.Context, log logr.Logger, cfg config.OTLPConfig) (metric.MeterProvider, func(context.Context) error) {
	disabled := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		log.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set; HTTP metrics will be recorded but not exported")
		return metricnoop.NewMeterProvider(), disabled
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		log.Error(err, "Failed to build OTLP metrics exporter; metrics will not be exported")
		return metricnoop.NewMeterProvider(), disabled
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(newResource(cfg)),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(MetricExportInterval))),
	)

	log.Info("OTLP metrics exporter initialized", "endpoint", cfg.Endpoint, "interval", MetricExportInterval)
	return mp, mp.Shutdown
}
