package config

import (
	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/api"
)

// CreateAdapters creates the adapters a drive server runs: the HTTP API and,
// when configured, the dedicated metrics server.
//
// Parameters:
//   - cfg: The complete DittoDrive configuration
//   - m: Result of InitializeMetrics
//
// Returns:
//   - []adapter.Adapter: Adapters ready to be added to the server, API first
func CreateAdapters(cfg *Config, m *MetricsResult) []adapter.Adapter {
	apiCfg := cfg.Server.API
	apiCfg.ServeMetrics = apiCfg.ServeMetrics || (m != nil && m.ServeOnAPI)

	adapters := []adapter.Adapter{api.New(apiCfg)}
	if m != nil && m.Server != nil {
		adapters = append(adapters, m.Server)
	}
	return adapters
}
