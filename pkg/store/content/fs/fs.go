// Package fs implements a content store on the local filesystem.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
)

const (
	backendName = "filesystem"

	// tmpDir holds in-flight writes. It lives under the root so the final
	// rename never crosses a filesystem boundary.
	tmpDir = ".tmp"
)

// Config configures the filesystem content store.
type Config struct {
	// Path is the root directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required"`
}

// Store keeps each content item in one file under the root directory.
//
// File Layout:
//   - <root>/<hex(id)>: committed content
//   - <root>/.tmp/<random>: writes in progress
//
// IDs are hex-encoded so any valid ID maps to a portable filename.
//
// Thread Safety:
// Writes go to a private temporary file and are renamed into place, so
// concurrent writers and readers never see partial content.
type Store struct {
	root    string
	metrics metrics.StorageMetrics
}

// New creates a filesystem content store rooted at cfg.Path.
//
// Leftover temporary files from a previous crash are removed.
func New(ctx context.Context, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.New("content path is required")
	}

	if err := os.RemoveAll(filepath.Join(cfg.Path, tmpDir)); err != nil {
		return nil, fmt.Errorf("failed to clean temporary directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.Path, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &Store{root: cfg.Path, metrics: metrics.OrNoopStorage(m)}, nil
}

// Root returns the root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) path(id content.ID) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(id)))
}

func (s *Store) record(op string, start time.Time, err error) {
	s.metrics.RecordStorageOperation(backendName, op, time.Since(start), err)
}

// WriteContent implements content.Store.
func (s *Store) WriteContent(ctx context.Context, id content.ID, r io.Reader) (n int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := id.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() { s.record("write", start, err) }()

	// Step 1: write to a temporary file
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err = io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		return 0, fmt.Errorf("failed to write content %s: %w", id, err)
	}

	// Step 2: make it durable, then publish it
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync content %s: %w", id, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close content %s: %w", id, err)
	}
	if err = os.Rename(tmpName, s.path(id)); err != nil {
		return 0, fmt.Errorf("failed to commit content %s: %w", id, err)
	}

	s.metrics.RecordBytes(backendName, "write", n)
	return n, nil
}

// contextReader stops a copy once its context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ReadContent implements content.Store.
func (s *Store) ReadContent(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	file, err := os.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	s.record("read", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return file, nil
}

// GetContentSize implements content.Store.
func (s *Store) GetContentSize(ctx context.Context, id content.ID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := id.Validate(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}
	return info.Size(), nil
}

// ContentExists implements content.Store.
func (s *Store) ContentExists(ctx context.Context, id content.ID) (bool, error) {
	_, err := s.GetContentSize(ctx, id)
	if errors.Is(err, content.ErrContentNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete implements content.Store.
func (s *Store) Delete(ctx context.Context, id content.ID) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.record("delete", start, err) }()

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete content %s: %w", id, err)
	}
	return nil
}

// ListAllContent implements content.GarbageCollectableStore.
//
// Files whose name does not decode to a valid ID are skipped with a warning;
// the store never created them.
func (s *Store) ListAllContent(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}

	ids := make([]content.ID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := hex.DecodeString(name)
		if err != nil || content.ID(raw).Validate() != nil {
			logger.Warn("Content store: ignoring foreign file %s", filepath.Join(s.root, name))
			continue
		}
		ids = append(ids, content.ID(raw))
	}
	return ids, nil
}

// DeleteBatch implements content.GarbageCollectableStore.
func (s *Store) DeleteBatch(ctx context.Context, ids []content.ID) (map[content.ID]error, error) {
	failures := make(map[content.ID]error)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for _, rest := range ids[i:] {
				failures[rest] = err
			}
			return failures, err
		}
		if err := s.Delete(ctx, id); err != nil {
			failures[id] = err
		}
	}
	return failures, nil
}

// Healthcheck verifies the root is writable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "health-*")
	if err != nil {
		return fmt.Errorf("content directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Close implements content.Store. There is nothing to release.
func (s *Store) Close() error {
	return nil
}
