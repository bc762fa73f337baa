package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Recorder receives one observation per handled conversion request.
type Recorder interface {
	ObserveConversion(outcome string, reason metav1.StatusReason, objects int, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveConversion(string, metav1.StatusReason, int, time.Duration) {}

// Metrics is the Prometheus implementation of Recorder.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	objects  *prometheus.CounterVec
}

// NewMetrics creates the conversion collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conversion_webhook",
				Name:      "requests_total",
				Help:      "Total number of conversion requests by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "conversion_webhook",
				Name:      "request_duration_seconds",
				Help:      "Time spent converting a batch of objects",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"outcome"},
		),
		objects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conversion_webhook",
				Name:      "objects_total",
				Help:      "Total number of objects received for conversion by request outcome",
			},
			[]string{"outcome"},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.objects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveConversion implements Recorder.
func (m *Metrics) ObserveConversion(outcome string, reason metav1.StatusReason, objects int, elapsed time.Duration) {
	m.requests.WithLabelValues(outcome, string(reason)).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.objects.WithLabelValues(outcome).Add(float64(objects))
}
