package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/certwatcher"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

const readHeaderTimeout = 10 * time.Second

// Options configures the listeners.
type Options struct {
	// ListenAddress serves the conversion endpoint over TLS.
	ListenAddress string
	// ProbeAddress serves /healthz, /readyz and /metrics over plain HTTP.
	ProbeAddress string

	CertFile    string
	KeyFile     string
	EnableHTTP2 bool

	// ShutdownGracePeriod bounds how long in-flight requests may run after
	// the context passed to Run is cancelled.
	ShutdownGracePeriod time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Gatherer       prometheus.Gatherer
}

// Server runs the TLS conversion listener and the probe listener.
type Server struct {
	opts        Options
	log         logr.Logger
	convert     http.Handler
	certWatcher *certwatcher.CertWatcher
	ready       atomic.Bool
}

// New loads the TLS key pair and returns a Server. A key pair that cannot be
// loaded is a startup error.
func New(log logr.Logger, convert http.Handler, opts Options) (*Server, error) {
	cw, err := certwatcher.New(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &Server{
		opts:        opts,
		log:         log,
		convert:     convert,
		certWatcher: cw,
	}, nil
}

// WebhookRouter routes the conversion endpoint.
func (s *Server) WebhookRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	otelOpts := []otelhttp.Option{otelhttp.WithPropagators(propagation.TraceContext{})}
	if s.opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.opts.TracerProvider))
	}
	if s.opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(s.opts.MeterProvider))
	}
	r.Handle("/convert", otelhttp.NewHandler(s.convert, "convert", otelOpts...))
	return r
}

// ProbeRouter routes liveness, readiness and metrics.
func (s *Server) ProbeRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/healthz", &healthz.CheckHandler{Checker: healthz.Ping})
	r.Handle("/readyz", &healthz.CheckHandler{Checker: s.readyCheck})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) readyCheck(_ *http.Request) error {
	if !s.ready.Load() {
		return errors.New("webhook is not serving")
	}
	return nil
}

func (s *Server) tlsConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.certWatcher.GetCertificate,
	}
	if !s.opts.EnableHTTP2 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	return cfg
}

// Run serves until ctx is cancelled, then stops accepting connections and
// gives in-flight requests up to ShutdownGracePeriod to finish.
func (s *Server) Run(ctx context.Context) error {
	webhookSrv := &http.Server{
		Addr:              s.opts.ListenAddress,
		Handler:           s.WebhookRouter(),
		TLSConfig:         s.tlsConfig(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if !s.opts.EnableHTTP2 {
		webhookSrv.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
	}
	probeSrv := &http.Server{
		Addr:              s.opts.ProbeAddress,
		Handler:           s.ProbeRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	webhookLn, err := net.Listen("tcp", s.opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("webhook server: %w", err)
	}
	probeLn, err := net.Listen("tcp", s.opts.ProbeAddress)
	if err != nil {
		_ = webhookLn.Close()
		return fmt.Errorf("probe server: %w", err)
	}

	s.ready.Store(true)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.certWatcher.Start(ctx)
	})

	g.Go(func() error {
		s.log.Info("Webhook server starting", "address", webhookLn.Addr().String())
		if err := webhookSrv.ServeTLS(webhookLn, "", ""); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.log.Info("Probe server starting", "address", probeLn.Addr().String())
		if err := probeSrv.Serve(probeLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("probe server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.ready.Store(false)
		s.log.Info("Shutting down", "gracePeriod", s.opts.ShutdownGracePeriod)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGracePeriod)
		defer cancel()

		// Drain conversions first; probes keep answering (not ready) meanwhile.
		webhookErr := webhookSrv.Shutdown(shutdownCtx)
		probeErr := probeSrv.Shutdown(shutdownCtx)
		return errors.Join(webhookErr, probeErr)
	})

	return g.Wait()
}
