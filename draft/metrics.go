package draft

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draftsafe_draft_operations_total",
		Help: "Draft API operations by operation and status",
	}, []string{"operation", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "draftsafe_draft_operation_duration_seconds",
		Help:    "Time to serve a draft API operation",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	beaconBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "draftsafe_beacon_body_bytes",
		Help:    "Decoded size of teardown beacon bodies",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})
)

func observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		status = "invalid"
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	operationsTotal.WithLabelValues(op, status).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
