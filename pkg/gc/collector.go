// Package gc removes orphaned content.
//
// Content becomes orphaned when the drive forgets a file but the bytes stay
// behind:
//   - best-effort content deletes that failed after a successful DeleteItem
//   - uploads whose ingest was rejected or never happened (crash)
//   - snapshots restored from an older backup
//
// The collector works with any content store implementing
// content.GarbageCollectableStore.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/content"
)

// ReferenceSource reports which content is still in use.
//
// ContentRefs must include content that is being written but not yet
// ingested, otherwise a collection running during an upload would reclaim
// it. facade.Drive satisfies this.
type ReferenceSource interface {
	ContentRefs(ctx context.Context) ([]content.ID, error)
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether periodic collection runs (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// BatchSize is how many orphaned items to delete per batch (default: 1000)
	// S3 supports up to 1000 objects per DeleteObjects call
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"omitempty,gte=1"`

	// DryRun logs what would be deleted without deleting anything
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// Timeout bounds one periodic run (default: 10m)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 24 * time.Hour
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
}

// Collector performs periodic garbage collection on a content store.
//
// Thread Safety: Safe for concurrent use. Runs never overlap; a RunNow
// during a periodic run waits for it.
type Collector struct {
	refs    ReferenceSource
	store   content.GarbageCollectableStore
	config  Config
	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	start   sync.Once
	stop    sync.Once
	started bool
	startMu sync.Mutex
}

// NewCollector creates a garbage collector. Call Start to run it in the
// background, or RunNow for a single pass.
//
// Parameters:
//   - refs: Source of referenced content
//   - store: Content store to scan; must implement GarbageCollectableStore
//   - config: Garbage collection configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: If the store cannot be garbage collected
func NewCollector(refs ReferenceSource, store content.Store, config Config) (*Collector, error) {
	if refs == nil {
		return nil, errors.New("reference source is required")
	}
	gcStore, ok := store.(content.GarbageCollectableStore)
	if !ok {
		return nil, fmt.Errorf("content store %T does not support garbage collection", store)
	}

	config.ApplyDefaults()

	return &Collector{
		refs:   refs,
		store:  gcStore,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins background garbage collection. Safe to call multiple times.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.start.Do(func() {
		logger.Info("Starting garbage collector: interval=%s batch_size=%d dry_run=%v",
			c.config.Interval, c.config.BatchSize, c.config.DryRun)

		c.startMu.Lock()
		c.started = true
		c.startMu.Unlock()

		go c.worker()
	})
}

// Stop stops the background worker and waits for it to finish.
//
// Returns ctx.Err() if ctx expires first. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()
	if !started {
		return nil
	}

	c.stop.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single garbage collection run.
//
// Algorithm:
//  1. List all content in the store
//  2. Get the referenced set
//  3. orphaned = existing - referenced
//  4. Batch delete orphaned content
//
// Listing before reading references is what makes concurrent uploads safe:
// anything listed was written after its ID was registered as in flight, so
// step 2 sees it either in flight or ingested.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	// Phase 1: existing content
	existing, err := c.store.ListAllContent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	// Phase 2: referenced content
	referenced, err := c.refs.ContentRefs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced content: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	referencedSet := make(map[content.ID]struct{}, len(referenced))
	for _, id := range referenced {
		referencedSet[id] = struct{}{}
	}

	// Phase 3: orphans
	orphaned := make([]content.ID, 0)
	for _, id := range existing {
		if _, ok := referencedSet[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	logger.Debug("GC: existing=%d referenced=%d orphaned=%d",
		stats.ExistingCount, stats.ReferencedCount, stats.OrphanedCount)

	if len(orphaned) == 0 {
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d items:", stats.OrphanedCount)
		for i, id := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", id)
		}
		return stats, nil
	}

	// Phase 4: delete in batches
	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		batch := orphaned[i:end]

		failures, err := c.store.DeleteBatch(ctx, batch)
		if err != nil {
			logger.Warn("GC: batch delete failed: %v", err)
			stats.FailedCount += uint64(len(batch))
			continue
		}

		stats.DeletedCount += uint64(len(batch) - len(failures))
		stats.FailedCount += uint64(len(failures))
		for id, ferr := range failures {
			logger.Debug("GC: failed to delete %s: %v", id, ferr)
		}
	}

	logger.Info("GC: deleted %d items, %d failed, duration=%s",
		stats.DeletedCount, stats.FailedCount, time.Since(stats.StartTime))

	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	ReferencedCount uint64    `json:"referenced"` // IDs the drive still uses
	ExistingCount   uint64    `json:"existing"`   // IDs in the content store
	OrphanedCount   uint64    `json:"orphaned"`   // existing minus referenced
	DeletedCount    uint64    `json:"deleted"`    // orphans removed
	FailedCount     uint64    `json:"failed"`     // orphans that could not be removed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
