package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the allocation engine's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// SaleOperations counts sale mutations.
	// Labels: transport, operation, outcome
	SaleOperations *prometheus.CounterVec

	// SaleOperationDuration tracks end-to-end latency of sale mutations.
	// Labels: transport, operation
	SaleOperationDuration *prometheus.HistogramVec

	// ItemDrift is the last drift observed per item by the checker.
	// Labels: item_id
	ItemDrift *prometheus.GaugeVec

	// DriftChecks counts checker runs.
	// Labels: result
	DriftChecks *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SaleOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocation_sale_operations_total",
				Help: "Total number of sale create/update/delete calls by outcome",
			},
			[]string{"transport", "operation", "outcome"},
		),

		SaleOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allocation_sale_operation_duration_seconds",
				Help:    "Latency of sale create/update/delete calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport", "operation"},
		),

		ItemDrift: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "allocation_item_drift",
				Help: "Difference between expected and stored remaining stock per item",
			},
			[]string{"item_id"},
		),

		DriftChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocation_drift_checks_total",
				Help: "Total number of item consistency checks by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveSaleOperation(transport, operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.SaleOperations.WithLabelValues(transport, operation, outcome).Inc()
	m.SaleOperationDuration.WithLabelValues(transport, operation).Observe(took.Seconds())
}

func (m *Metrics) ObserveDrift(itemID string, drift float64, healthy bool) {
	if m == nil {
		return
	}
	m.ItemDrift.WithLabelValues(itemID).Set(drift)
	result := "healthy"
	if !healthy {
		result = "drift"
	}
	m.DriftChecks.WithLabelValues(result).Inc()
}
