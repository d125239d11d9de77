// Package prometheus holds the Prometheus-backed implementations of the
// interfaces in pkg/metrics.
package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	driveOnce    sync.Once
	driveMetrics metrics.DriveMetrics
)

// driveCollector is the Prometheus implementation of metrics.DriveMetrics.
type driveCollector struct {
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	usedBytes           prometheus.Gauge
	totalBytes          prometheus.Gauge
	folders             prometheus.Gauge
	files               prometheus.Gauge
	freedBytes          prometheus.Counter
	rejectedDescriptors prometheus.Counter
}

// NewDriveMetrics returns the process-wide Prometheus-backed DriveMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not
// called). Collectors are registered once; later calls return the same
// instance.
func NewDriveMetrics() metrics.DriveMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopDriveMetrics()
	}

	driveOnce.Do(func() {
		driveMetrics = newDriveCollector(metrics.GetRegistry())
	})
	return driveMetrics
}

func newDriveCollector(reg prometheus.Registerer) *driveCollector {
	return &driveCollector{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_operations_total",
				Help: "Total number of drive operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_operation_duration_seconds",
				Help: "Duration of drive operations in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
				},
			},
			[]string{"operation"},
		),
		usedBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_quota_used_bytes",
				Help: "Sum of the sizes of all files in the drive",
			},
		),
		totalBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_quota_total_bytes",
				Help: "Storage budget of the drive",
			},
		),
		folders: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_folders",
				Help: "Current number of folders, well-known folders included",
			},
		),
		files: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrive_files",
				Help: "Current number of files",
			},
		),
		freedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_freed_bytes_total",
				Help: "Total bytes released by deletions",
			},
		),
		rejectedDescriptors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrive_rejected_descriptors_total",
				Help: "Total number of malformed file descriptors skipped on ingest",
			},
		),
	}
}

func (m *driveCollector) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, metrics.Status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *driveCollector) SetUsage(usedBytes, totalBytes int64) {
	m.usedBytes.Set(float64(usedBytes))
	m.totalBytes.Set(float64(totalBytes))
}

func (m *driveCollector) SetCounts(folders, files int) {
	m.folders.Set(float64(folders))
	m.files.Set(float64(files))
}

func (m *driveCollector) RecordFreedBytes(bytes int64) {
	m.freedBytes.Add(float64(bytes))
}

func (m *driveCollector) RecordRejectedDescriptors(count int) {
	m.rejectedDescriptors.Add(float64(count))
}
