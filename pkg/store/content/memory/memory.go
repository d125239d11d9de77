// Package memory implements an in-memory content store.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittodrive/pkg/store/content"
)

// Store keeps content in a map.
//
// Content is lost on restart. Use it for tests and ephemeral drives only.
//
// Thread Safety:
// All operations take mu. Readers get a private copy of the bytes, so a
// later overwrite never changes an open reader.
type Store struct {
	mu     sync.RWMutex
	data   map[content.ID][]byte
	closed bool
}

// New creates an empty in-memory content store.
func New() *Store {
	return &Store{data: make(map[content.ID][]byte)}
}

func (s *Store) check(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return content.ErrClosed
	}
	return id.Validate()
}

// WriteContent implements content.Store.
func (s *Store) WriteContent(ctx context.Context, id content.ID, r io.Reader) (int64, error) {
	s.mu.RLock()
	err := s.check(ctx, id)
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	// Read outside the lock; r may be slow
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, fmt.Errorf("read content %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, id); err != nil {
		return 0, err
	}
	s.data[id] = buf.Bytes()
	return n, nil
}

// ReadContent implements content.Store.
func (s *Store) ReadContent(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, id); err != nil {
		return nil, err
	}
	data, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// GetContentSize implements content.Store.
func (s *Store) GetContentSize(ctx context.Context, id content.ID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, id); err != nil {
		return 0, err
	}
	data, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return int64(len(data)), nil
}

// ContentExists implements content.Store.
func (s *Store) ContentExists(ctx context.Context, id content.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, id); err != nil {
		return false, err
	}
	_, ok := s.data[id]
	return ok, nil
}

// Delete implements content.Store.
func (s *Store) Delete(ctx context.Context, id content.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, id); err != nil {
		return err
	}
	delete(s.data, id)
	return nil
}

// ListAllContent implements content.GarbageCollectableStore.
func (s *Store) ListAllContent(ctx context.Context) ([]content.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]content.ID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteBatch implements content.GarbageCollectableStore.
func (s *Store) DeleteBatch(ctx context.Context, ids []content.ID) (map[content.ID]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make(map[content.ID]error)
	if err := ctx.Err(); err != nil {
		return failures, err
	}
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			failures[id] = err
			continue
		}
		delete(s.data, id)
	}
	return failures, nil
}

// Healthcheck implements content.Store.
func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return content.ErrClosed
	}
	return ctx.Err()
}

// Close implements content.Store. Content is dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
