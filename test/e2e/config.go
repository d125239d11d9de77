//go:build e2e

package e2e

import (
	"testing"

	"github.com/marmos91/dittodrive/test/e2e/framework"
)

// allStores lists the backends every scenario runs against.
var allStores = []framework.StoreType{
	framework.StoreTypeMemory,
	framework.StoreTypeFilesystem,
	framework.StoreTypeBadger,
}

// TestContext is one running server and a client for it.
type TestContext struct {
	Server *framework.TestServer
	Client *framework.Client
}

// newTestContext starts a server that is stopped when the test ends.
func newTestContext(t *testing.T, config framework.TestServerConfig) *TestContext {
	t.Helper()

	ts := framework.NewTestServer(t, config)
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})

	return &TestContext{Server: ts, Client: framework.NewClient(t, ts)}
}

// runOnAllConfigs runs fn once per store type, each with a fresh server.
func runOnAllConfigs(t *testing.T, fn func(t *testing.T, tc *TestContext)) {
	t.Helper()
	for _, stores := range allStores {
		t.Run(string(stores), func(t *testing.T) {
			fn(t, newTestContext(t, framework.TestServerConfig{Stores: stores}))
		})
	}
}
