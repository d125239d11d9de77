// Package adapter defines the contract between DriveServer and the
// protocol front-ends that expose a drive (HTTP API, metrics endpoint).
package adapter

import (
	"context"

	"github.com/marmos91/dittodrive/pkg/facade"
)

// Adapter represents a protocol-specific front-end that can be managed by
// DriveServer.
//
// Every adapter registered on a server serves the same Drive, so a folder
// created through one adapter is visible through all others.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Drive injection: SetDrive() provides the shared drive
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetDrive() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must stop accepting requests,
	// let in-flight requests finish within its shutdown timeout and return
	// nil or context.Canceled.
	//
	// If Serve returns before context cancellation, DriveServer treats it
	// as a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetDrive injects the shared drive. Called exactly once by DriveServer
	// before Serve(). Adapters that do not need the drive ignore it.
	SetDrive(d *facade.Drive)

	// Stop initiates graceful shutdown. It must be idempotent and safe to
	// call concurrently with Serve().
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging
	// (e.g. "HTTP", "metrics"). Constant for the lifetime of the adapter.
	Protocol() string

	// Port returns the TCP port the adapter listens on, or 0 when the port
	// is chosen by the system.
	Port() int
}
