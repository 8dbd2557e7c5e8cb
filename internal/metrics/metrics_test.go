package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSaleOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSaleOperation("http", "create", "ok", 10*time.Millisecond)
	m.ObserveSaleOperation("http", "create", "ok", 20*time.Millisecond)
	m.ObserveSaleOperation("http", "create", "insufficient_stock", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SaleOperations.WithLabelValues("http", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SaleOperations.WithLabelValues("http", "create", "insufficient_stock")))
}

func TestObserveDrift(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDrift("1", 0, true)
	m.ObserveDrift("2", 12.5, false)

	assert.Equal(t, 12.5, testutil.ToFloat64(m.ItemDrift.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftChecks.WithLabelValues("drift")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftChecks.WithLabelValues("healthy")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSaleOperation("grpc", "delete", "ok", time.Second)
		m.ObserveDrift("1", 0, true)
	})
}
