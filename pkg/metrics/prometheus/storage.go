package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageOnce    sync.Once
	storageMetrics metrics.StorageMetrics
)

// storageCollector is the Prometheus implementation of metrics.StorageMetrics.
type storageCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewStorageMetrics returns the process-wide Prometheus-backed
// StorageMetrics, or a no-op implementation when metrics are disabled.
func NewStorageMetrics() metrics.StorageMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStorageMetrics()
	}

	storageOnce.Do(func() {
		storageMetrics = newStorageCollector(metrics.GetRegistry())
	})
	return storageMetrics
}

func newStorageCollector(reg prometheus.Registerer) *storageCollector {
	return &storageCollector{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_storage_operations_total",
				Help: "Total number of backend operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_storage_operation_duration_seconds",
				Help: "Duration of backend operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_storage_bytes_total",
				Help: "Total payload bytes moved by backends",
			},
			[]string{"backend", "direction"},
		),
	}
}

func (m *storageCollector) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(backend, operation, metrics.Status(err)).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (m *storageCollector) RecordBytes(backend, direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(backend, direction).Add(float64(bytes))
}
