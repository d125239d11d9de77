// Package snapshot defines the persistence collaborator of a drive.
//
// The core never serializes anything itself. After every successful
// mutation the caller pushes the complete {folders, files} state to a Store,
// and on startup pulls it back. Backends must round-trip every field
// losslessly, timestamps and insertion order included.
package snapshot

import (
	"context"
	"errors"

	"github.com/marmos91/dittodrive/pkg/drive"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet. The
// caller then seeds a fresh drive.
var ErrNoSnapshot = errors.New("no snapshot saved")

// Store persists drive snapshots.
//
// Implementations:
//   - memory: process-local, for tests and ephemeral drives
//   - fs: one JSON or YAML document on disk
//   - badger: embedded key-value store
//   - postgres: relational tables
//
// Thread Safety:
// Implementations must be safe for concurrent use. Save replaces the stored
// snapshot atomically: a concurrent or later Load sees either the previous
// snapshot or the new one, never a mix.
type Store interface {
	// Load returns the last saved snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) (*drive.Snapshot, error)

	// Save replaces the stored snapshot with snap.
	Save(ctx context.Context, snap *drive.Snapshot) error

	// Healthcheck verifies the backend is reachable and usable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}
