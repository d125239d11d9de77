package config

import (
	"github.com/marmos91/dittodrive/pkg/metrics"
	promMetrics "github.com/marmos91/dittodrive/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the dedicated metrics HTTP server (nil if disabled or when
	// metrics are served by the API)
	Server *promMetrics.Server

	// ServeOnAPI is true when /metrics is mounted on the API router
	ServeOnAPI bool

	// Drive is the metrics collector for drive operations (never nil, uses noop if disabled)
	Drive metrics.DriveMetrics

	// Storage is the metrics collector for snapshot and content stores
	// (never nil, uses noop if disabled)
	Storage metrics.StorageMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server when a dedicated port is set
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Drive:   metrics.NewNoopDriveMetrics(),
			Storage: metrics.NewNoopStorageMetrics(),
		}
	}

	metrics.InitRegistry()

	result := &MetricsResult{
		Drive:   promMetrics.NewDriveMetrics(),
		Storage: promMetrics.NewStorageMetrics(),
	}
	if cfg.Metrics.Port > 0 {
		result.Server = promMetrics.NewServer(promMetrics.ServerConfig{Port: cfg.Metrics.Port})
	} else {
		result.ServeOnAPI = true
	}
	return result
}
