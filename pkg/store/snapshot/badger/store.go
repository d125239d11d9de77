// Package badger stores drive snapshots in an embedded BadgerDB database.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
)

const backendName = "badger"

// Config contains configuration for the BadgerDB snapshot store.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files
	// BadgerDB creates multiple files in this directory (value log, LSM tree, etc.)
	DBPath string `mapstructure:"db_path" validate:"required_unless=InMemory true"`

	// InMemory keeps the database in RAM only. Useful for tests.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// header is stored once per generation.
type header struct {
	SavedAt time.Time `json:"saved_at"`
	Folders int       `json:"folders"`
	Files   int       `json:"files"`
}

// Store implements snapshot.Store on BadgerDB.
//
// Key Features:
//   - Crash safety: a generation becomes visible only once fully written
//   - Insertion order preserved through zero-padded position keys
//   - JSON values, readable with any badger inspection tool
//
// Thread Safety:
// Saves are serialized by mu. Loads run in badger read transactions and
// need no lock.
type Store struct {
	db      *badger.DB
	mu      sync.Mutex
	metrics metrics.StorageMetrics
}

// New opens (or creates) a BadgerDB snapshot store.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - cfg: Database location and cache sizes
//   - m: Storage metrics, nil for none
//
// Returns:
//   - *Store: A store ready for use
//   - error: If the database cannot be opened
func New(ctx context.Context, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("badger snapshot store requires db_path")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// Snapshot workload: rare bulk writes of small JSON values
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	s := &Store{db: db, metrics: metrics.OrNoopStorage(m)}

	// Drop generations left behind by a save that crashed mid-way
	if err := s.dropStaleGenerations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to clean stale generations: %w", err)
	}

	return s, nil
}

// currentGeneration returns the generation the pointer key names.
func currentGeneration(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get([]byte(keyCurrent))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var gen uint64
	err = item.Value(func(val []byte) error {
		gen, err = decodeGeneration(val)
		return err
	})
	return gen, err == nil, err
}

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

	err = s.db.View(func(txn *badger.Txn) error {
		gen, ok, err := currentGeneration(txn)
		if err != nil {
			return err
		}
		if !ok {
			return snapshot.ErrNoSnapshot
		}

		var h header
		item, err := txn.Get(headerKey(gen))
		if err != nil {
			return fmt.Errorf("generation %d has no header: %w", gen, err)
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &h) }); err != nil {
			return fmt.Errorf("failed to decode header: %w", err)
		}

		snap = &drive.Snapshot{
			Folders: make([]drive.Folder, 0, h.Folders),
			Files:   make([]drive.File, 0, h.Files),
		}

		if err := scan(ctx, txn, folderPrefix(gen), func(val []byte) error {
			var f drive.Folder
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			snap.Folders = append(snap.Folders, f)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read folders: %w", err)
		}

		if err := scan(ctx, txn, filePrefix(gen), func(val []byte) error {
			var f drive.File
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			snap.Files = append(snap.Files, f)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read files: %w", err)
		}

		if len(snap.Folders) != h.Folders || len(snap.Files) != h.Files {
			return fmt.Errorf("generation %d is incomplete: %d/%d folders, %d/%d files",
				gen, len(snap.Folders), h.Folders, len(snap.Files), h.Files)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// scan calls fn with every value under prefix, in key order.
func scan(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// Save implements snapshot.Store.
//
// Algorithm:
//  1. Write the new generation with a WriteBatch (no transaction size limit)
//  2. Flip the pointer key in one transaction
//  3. Delete every other generation
func (s *Store) Save(ctx context.Context, snap *drive.Snapshot) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(backendName, "save", time.Since(start), err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Step 1: pick the next generation
	var next uint64 = 1
	err = s.db.View(func(txn *badger.Txn) error {
		cur, ok, err := currentGeneration(txn)
		if ok {
			next = cur + 1
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read current generation: %w", err)
	}

	// Step 2: write the generation
	var written int64
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	put := func(key []byte, v any) error {
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		written += int64(len(val))
		return wb.Set(key, val)
	}

	h := header{SavedAt: time.Now().UTC(), Folders: len(snap.Folders), Files: len(snap.Files)}
	if err = put(headerKey(next), h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, f := range snap.Folders {
		if err = put(folderKey(next, i), f); err != nil {
			return fmt.Errorf("failed to write folder %s: %w", f.ID, err)
		}
	}
	for i, f := range snap.Files {
		if i%1024 == 0 {
			if err = ctx.Err(); err != nil {
				return err
			}
		}
		if err = put(fileKey(next, i), f); err != nil {
			return fmt.Errorf("failed to write file %s: %w", f.ID, err)
		}
	}
	if err = wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush generation %d: %w", next, err)
	}

	// Step 3: publish it
	if err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyCurrent), encodeGeneration(next))
	}); err != nil {
		return fmt.Errorf("failed to publish generation %d: %w", next, err)
	}
	s.metrics.RecordBytes(backendName, "write", written)

	// Step 4: reclaim older generations. The new snapshot is already
	// durable, so a failure here only leaves garbage for the next open.
	if cerr := s.dropStaleGenerations(); cerr != nil {
		logger.Warn("Snapshot store: failed to drop stale generations: %v", cerr)
	}
	return nil
}

// dropStaleGenerations deletes every key under the snapshot namespace that
// belongs neither to the pointer nor to the current generation.
func (s *Store) dropStaleGenerations() error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		cur, ok, err := currentGeneration(txn)
		if err != nil {
			return err
		}
		var keep []byte
		if ok {
			keep = generationPrefix(cur)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyRoot)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) == keyCurrent || (keep != nil && bytes.HasPrefix(key, keep)) {
				continue
			}
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Healthcheck verifies the database is open and readable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger snapshot store is closed")
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, _, err := currentGeneration(txn)
		return err
	})
}

// Close implements snapshot.Store.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
