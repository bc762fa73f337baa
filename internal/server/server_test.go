package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// writeKeyPair writes a self-signed certificate and key into dir.
func writeKeyPair(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "conversion-webhook.default.svc"},
		DNSNames:     []string{"conversion-webhook.default.svc", "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func newTestServer(t *testing.T, convert http.Handler, gatherer prometheus.Gatherer) *Server {
	t.Helper()

	certPath, keyPath := writeKeyPair(t, t.TempDir())
	s, err := New(logr.Discard(), convert, Options{
		ListenAddress:       "127.0.0.1:0",
		ProbeAddress:        "127.0.0.1:0",
		CertFile:            certPath,
		KeyFile:             keyPath,
		ShutdownGracePeriod: 5 * time.Second,
		Gatherer:            gatherer,
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_MissingKeyPair(t *testing.T) {
	dir := t.TempDir()
	_, err := New(logr.Discard(), http.NotFoundHandler(), Options{
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load TLS key pair")
}

func TestProbeRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "conversion_webhook_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, http.NotFoundHandler(), reg)
	probes := s.ProbeRouter()

	rec := get(t, probes, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, probes, "/readyz")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	s.ready.Store(true)
	rec = get(t, probes, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, probes, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conversion_webhook_test_total 1")
}

func TestWebhookRouter(t *testing.T) {
	convert := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("panic") != "" {
			panic("boom")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("converted"))
	})
	router := newTestServer(t, convert, nil).WebhookRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert?timeout=30s", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "converted", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert?panic=1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(t, router, "/healthz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRouter_RecordsHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	certPath, keyPath := writeKeyPair(t, t.TempDir())
	s, err := New(logr.Discard(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), Options{CertFile: certPath, KeyFile: keyPath, MeterProvider: mp})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.WebhookRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.NotEmpty(t, rm.ScopeMetrics[0].Metrics)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, http.NotFoundHandler(), prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, s.ready.Load, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.ready.Load())
}

func TestRun_BindFailureNeverReportsReady(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	for name, opts := range map[string]func(*Options){
		"webhook address in use": func(o *Options) { o.ListenAddress = taken.Addr().String() },
		"probe address in use":   func(o *Options) { o.ProbeAddress = taken.Addr().String() },
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, http.NotFoundHandler(), nil)
			opts(&s.opts)

			err := s.Run(context.Background())
			require.Error(t, err)
			assert.False(t, s.ready.Load())
			rec := get(t, s.ProbeRouter(), "/readyz")
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		})
	}
}
