// Package fs stores drive snapshots as a single JSON or YAML document on
// the local filesystem.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
	"gopkg.in/yaml.v3"
)

const backendName = "filesystem"

// documentVersion is bumped whenever the on-disk layout changes.
const documentVersion = 1

// Format is the encoding of the snapshot document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Config configures the filesystem snapshot store.
type Config struct {
	// Path is the snapshot document. Its directory is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// Format is "json" or "yaml". When empty it is derived from the
	// extension of Path (.yaml/.yml select YAML, anything else JSON).
	Format Format `mapstructure:"format" validate:"omitempty,oneof=json yaml"`

	// FileMode is the permission of the document. Default: 0600
	FileMode os.FileMode `mapstructure:"file_mode"`
}

// document is the on-disk layout.
type document struct {
	Version int            `json:"version" yaml:"version"`
	SavedAt time.Time      `json:"savedAt" yaml:"savedAt"`
	Folders []drive.Folder `json:"folders" yaml:"folders"`
	Files   []drive.File   `json:"files" yaml:"files"`
}

// Store persists snapshots to one file.
//
// Save writes a temporary file in the same directory, syncs it, then renames
// it over the document. The rename is atomic on POSIX filesystems, so a
// crash leaves either the previous document or the new one.
type Store struct {
	mu      sync.Mutex
	path    string
	format  Format
	mode    os.FileMode
	metrics metrics.StorageMetrics
}

// New creates a filesystem snapshot store. The parent directory of
// cfg.Path is created when missing.
func New(cfg Config, m metrics.StorageMetrics) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("snapshot path is required")
	}

	format := cfg.Format
	if format == "" {
		switch strings.ToLower(filepath.Ext(cfg.Path)) {
		case ".yaml", ".yml":
			format = FormatYAML
		default:
			format = FormatJSON
		}
	}
	if format != FormatJSON && format != FormatYAML {
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}

	mode := cfg.FileMode
	if mode == 0 {
		mode = 0o600
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &Store{
		path:    cfg.Path,
		format:  format,
		mode:    mode,
		metrics: metrics.OrNoopStorage(m),
	}, nil
}

// Path returns the location of the snapshot document.
func (s *Store) Path() string { return s.path }

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context) (snap *drive.Snapshot, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			s.metrics.RecordStorageOperation(backendName, "load", time.Since(start), err)
		}
	}()

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	s.metrics.RecordBytes(backendName, "read", int64(len(data)))

	var doc document
	switch s.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d in %s", doc.Version, s.path)
	}

	out := &drive.Snapshot{Folders: doc.Folders, Files: doc.Files}
	if out.Folders == nil {
		out.Folders = []drive.Folder{}
	}
	if out.Files == nil {
		out.Files = []drive.File{}
	}
	return out, nil
}

// Save implements snapshot.Store.
func (s *Store) Save(ctx context.Context, snap *drive.Snapshot) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(backendName, "save", time.Since(start), err)
	}()

	doc := document{
		Version: documentVersion,
		SavedAt: time.Now().UTC(),
		Folders: snap.Folders,
		Files:   snap.Files,
	}

	var data []byte
	switch s.format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if err = enc.Close(); err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		data = buf.Bytes()
	default:
		if data, err = json.MarshalIndent(doc, "", "  "); err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = writeAtomic(s.path, data, s.mode); err != nil {
		return err
	}
	s.metrics.RecordBytes(backendName, "write", int64(len(data)))
	return nil
}

// writeAtomic replaces path with data through a synced temporary file.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Healthcheck verifies the snapshot directory is writable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := os.CreateTemp(filepath.Dir(s.path), ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("snapshot directory is not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Close implements snapshot.Store. There is nothing to release.
func (s *Store) Close() error {
	return nil
}
