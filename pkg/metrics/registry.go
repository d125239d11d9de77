// Package metrics provides Prometheus metrics collection for DittoDrive
// components.
//
// All metrics are optional - if the registry is not initialized, components
// use no-op implementations that have zero overhead. This allows DittoDrive to
// run with or without metrics collection enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	driveMetrics := prometheus.NewDriveMetrics()
//	storageMetrics := prometheus.NewStorageMetrics()
//
//	// Or use nil for no-op behavior
//	eng := engine.New(store, engine.Options{}) // No metrics
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all DittoDrive metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored. The registry also carries the
// Go runtime and process collectors.
//
// If not called, GetRegistry() will return nil and all metrics constructors
// will return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
//
// Metrics are enabled if InitRegistry() has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Status returns "success" for a nil error and "error" otherwise. It is the
// value of the status label on every operation counter.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
