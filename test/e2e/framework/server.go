package framework

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/api"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/marmos91/dittodrive/pkg/store/content"
	contentfs "github.com/marmos91/dittodrive/pkg/store/content/fs"
	contentmemory "github.com/marmos91/dittodrive/pkg/store/content/memory"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
	snapshotbadger "github.com/marmos91/dittodrive/pkg/store/snapshot/badger"
	snapshotfs "github.com/marmos91/dittodrive/pkg/store/snapshot/fs"
	snapshotmemory "github.com/marmos91/dittodrive/pkg/store/snapshot/memory"
)

// StoreType selects the snapshot and content backends of a test server.
type StoreType string

const (
	// StoreTypeMemory keeps everything in memory; nothing survives Restart
	StoreTypeMemory StoreType = "memory"

	// StoreTypeFilesystem uses a JSON snapshot document and a content directory
	StoreTypeFilesystem StoreType = "filesystem"

	// StoreTypeBadger uses BadgerDB snapshots and a content directory
	StoreTypeBadger StoreType = "badger"
)

// Persistent reports whether a drive on this store type survives a restart.
func (s StoreType) Persistent() bool {
	return s != StoreTypeMemory
}

// TestServerConfig holds configuration for the test server.
type TestServerConfig struct {
	Port           int
	Stores         StoreType
	TotalBytes     int64
	EnforceQuota   bool
	LogLevel       string
	StartupTimeout time.Duration
}

// TestServer runs a drive behind the HTTP API on a local port.
type TestServer struct {
	t       testing.TB
	config  TestServerConfig
	tempDir string

	mu      sync.Mutex
	drive   *facade.Drive
	server  *server.DriveServer
	api     *api.Server
	cancel  context.CancelFunc
	done    chan error
	started bool
}

// NewTestServer creates a stopped test server. Its data directory is
// removed when the test ends.
func NewTestServer(t testing.TB, config TestServerConfig) *TestServer {
	t.Helper()

	if config.Port == 0 {
		config.Port = findFreePort(t)
	}
	if config.Stores == "" {
		config.Stores = StoreTypeMemory
	}
	if config.LogLevel == "" {
		config.LogLevel = "ERROR"
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}

	tempDir, err := os.MkdirTemp("", "dittodrive-e2e-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.RemoveAll(tempDir); err != nil {
			t.Logf("Warning: failed to remove temp directory %s: %v", tempDir, err)
		}
	})

	return &TestServer{t: t, config: config, tempDir: tempDir}
}

// Start opens the stores and serves the drive until Stop.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}

	logger.SetLevel(ts.config.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())

	snapshots, contents, err := ts.openStores(ctx)
	if err != nil {
		cancel()
		return err
	}

	d, err := facade.Open(ctx, facade.Options{
		Snapshots: snapshots,
		Content:   contents,
		Engine: engine.Options{
			TotalBytes:   ts.config.TotalBytes,
			EnforceQuota: ts.config.EnforceQuota,
		},
	})
	if err != nil {
		cancel()
		_ = snapshots.Close()
		_ = contents.Close()
		return fmt.Errorf("failed to open drive: %w", err)
	}

	apiServer := api.New(api.Config{Host: "127.0.0.1", Port: ts.config.Port})
	srv := server.New(d)
	srv.StopTimeout = 5 * time.Second
	if err := srv.AddAdapter(apiServer); err != nil {
		cancel()
		_ = d.Close(context.Background())
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	ts.t.Logf("Waiting for server to start on port %d...", ts.config.Port)
	select {
	case <-apiServer.Ready():
	case err := <-done:
		cancel()
		_ = d.Close(context.Background())
		return fmt.Errorf("server failed to start: %w", err)
	case <-time.After(ts.config.StartupTimeout):
		cancel()
		<-done
		_ = d.Close(context.Background())
		return fmt.Errorf("timeout waiting for server to start")
	}

	ts.drive, ts.server, ts.api = d, srv, apiServer
	ts.cancel, ts.done = cancel, done
	ts.started = true
	ts.t.Logf("Server started on %s with %s stores", apiServer.Addr(), ts.config.Stores)
	return nil
}

// Stop shuts the server down and closes the drive. The data directory is
// kept, so Start can reopen the same drive.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return nil
	}

	ts.cancel()

	var serveErr error
	select {
	case serveErr = <-ts.done:
	case <-time.After(10 * time.Second):
		ts.t.Logf("Server stop timeout")
	}

	closeErr := ts.drive.Close(context.Background())
	ts.started = false

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return closeErr
}

// Restart stops and starts the server on the same data.
func (ts *TestServer) Restart() error {
	if err := ts.Stop(); err != nil {
		return err
	}
	return ts.Start()
}

// BaseURL returns the URL of the API root.
func (ts *TestServer) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", ts.config.Port)
}

// Port returns the port the API listens on.
func (ts *TestServer) Port() int {
	return ts.config.Port
}

// Drive returns the drive being served.
func (ts *TestServer) Drive() *facade.Drive {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.drive
}

// Stores returns the store type of the server.
func (ts *TestServer) Stores() StoreType {
	return ts.config.Stores
}

func (ts *TestServer) openStores(ctx context.Context) (snapshot.Store, content.Store, error) {
	switch ts.config.Stores {
	case StoreTypeMemory:
		return snapshotmemory.New(), contentmemory.New(), nil

	case StoreTypeFilesystem, StoreTypeBadger:
		contents, err := contentfs.New(ctx, contentfs.Config{Path: filepath.Join(ts.tempDir, "content")}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create filesystem content store: %w", err)
		}

		var snapshots snapshot.Store
		if ts.config.Stores == StoreTypeBadger {
			snapshots, err = snapshotbadger.New(ctx, snapshotbadger.Config{DBPath: filepath.Join(ts.tempDir, "badger")}, nil)
		} else {
			snapshots, err = snapshotfs.New(snapshotfs.Config{Path: filepath.Join(ts.tempDir, "drive.json")}, nil)
		}
		if err != nil {
			_ = contents.Close()
			return nil, nil, fmt.Errorf("failed to create %s snapshot store: %w", ts.config.Stores, err)
		}
		return snapshots, contents, nil

	default:
		return nil, nil, fmt.Errorf("unknown store type: %s", ts.config.Stores)
	}
}

// findFreePort finds an available port
func findFreePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}
