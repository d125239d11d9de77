// Package memory provides an in-process snapshot store.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory snapshot store is closed")

// Store keeps the last saved snapshot as a deep copy.
//
// Nothing survives a restart, which makes it suitable for tests and for
// drives that are rebuilt on every run.
type Store struct {
	mu     sync.RWMutex
	snap   *drive.Snapshot
	saves  int
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context) (*drive.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.snap == nil {
		return nil, snapshot.ErrNoSnapshot
	}
	return s.snap.Clone(), nil
}

// Save implements snapshot.Store.
func (s *Store) Save(ctx context.Context, snap *drive.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clone := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.snap = clone
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Healthcheck implements snapshot.Store.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements snapshot.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snap = nil
	return nil
}
