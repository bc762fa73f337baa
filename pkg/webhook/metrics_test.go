package webhook

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestMetrics_ObserveConversion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveConversion(metav1.StatusSuccess, "", 3, time.Millisecond)
	m.ObserveConversion(metav1.StatusSuccess, "", 2, time.Millisecond)
	m.ObserveConversion(metav1.StatusFailure, ReasonConversionFailed, 4, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(metav1.StatusSuccess, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(metav1.StatusFailure, string(ReasonConversionFailed))))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.objects.WithLabelValues(metav1.StatusSuccess)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.objects.WithLabelValues(metav1.StatusFailure)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
