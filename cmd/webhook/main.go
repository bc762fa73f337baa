package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/example/aivenapp-conversion-webhook/internal/config"
	"github.com/example/aivenapp-conversion-webhook/internal/server"
	"github.com/example/aivenapp-conversion-webhook/internal/telemetry"
	"github.com/example/aivenapp-conversion-webhook/pkg/webhook"
)

const tracerName = "github.com/example/aivenapp-conversion-webhook/pkg/webhook"

func run(log logr.Logger, cfg *config.Config) error {
	ctx := signals.SetupSignalHandler()

	tp, shutdownTracing, err := telemetry.NewTracerProvider(ctx, log.WithName("tracing"), cfg.OTLP)
	if err != nil {
		return err
	}
	defer func() {
		// The signal context is already done here.
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error(err, "Failed to flush spans")
		}
	}()

	mp, shutdownMetrics := telemetry.NewMeterProvider(ctx, log.WithName("metrics"), cfg.OTLP)
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error(err, "Failed to flush metrics")
		}
	}()

	recorder, err := webhook.NewMetrics(metrics.Registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	converter := webhook.NewConverter(
		webhook.WithLogger(log.WithName("converter")),
		webhook.WithRecorder(recorder),
		webhook.WithTracer(tp.Tracer(tracerName)),
		webhook.WithGroup(cfg.Group),
	)
	handler := webhook.NewHandler(converter, log.WithName("handler"), cfg.MaxRequestBodyBytes)

	srv, err := server.New(log.WithName("server"), handler, server.Options{
		ListenAddress:       cfg.ListenAddress,
		ProbeAddress:        cfg.ProbeAddress,
		CertFile:            cfg.TLSCertFile,
		KeyFile:             cfg.TLSKeyFile,
		EnableHTTP2:         cfg.EnableHTTP2,
		ShutdownGracePeriod: cfg.ShutdownGracePeriod,
		TracerProvider:      tp,
		MeterProvider:       mp,
		Gatherer:            metrics.Registry,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.NewLogger(cfg.Logging)
	// certwatcher and other controller-runtime packages log through the global logger.
	ctrllog.SetLogger(log)

	if err := run(log, cfg); err != nil {
		log.Error(err, "Webhook server failed")
		os.Exit(1)
	}
	log.Info("Webhook server stopped")
}
