// Package facade composes the drive core with its collaborators.
//
// A Drive owns an engine, the snapshot store it is persisted to, and the
// content store holding file bytes. Every outer surface (HTTP API, CLI)
// talks to a Drive, never to the engine directly.
package facade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/drive/hierarchy"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
)

// ErrNoContentStore is returned by content operations on a drive opened
// without a content store.
var ErrNoContentStore = errors.New("drive has no content store")

// Options configures Open.
type Options struct {
	// Snapshots persists the hierarchy (required)
	Snapshots snapshot.Store

	// Content stores file bytes. Without it, Upload and OpenContent fail
	// with ErrNoContentStore and IngestFiles takes caller-supplied refs.
	Content content.Store

	// Engine configures ids, clock, quota and metrics of the engine
	Engine engine.Options
}

// Drive is a persisted, content-backed drive.
//
// Persistence Model:
// After every successful mutation the full snapshot is pushed to the
// snapshot store. A failed save does not undo the mutation: the drive is
// marked dirty, the failure is logged, and the next mutation (or Flush, or
// Close) saves again. Healthcheck reports a dirty drive as unhealthy.
//
// Thread Safety:
// Safe for concurrent use. Mutations serialize in the engine; saves
// serialize on saveMu and always write the latest state, so the stored
// snapshot never goes back in time.
type Drive struct {
	engine    *engine.Engine
	snapshots snapshot.Store
	content   content.Store
	metrics   metrics.DriveMetrics

	saveMu sync.Mutex
	dirty  bool

	// pending holds content written by uploads that are not ingested yet,
	// so garbage collection leaves it alone
	pendingMu sync.Mutex
	pending   map[content.ID]int

	// refMu orders descriptor ingests against content release, so a ref
	// cannot gain a file between the in-use check and the delete
	refMu sync.Mutex

	closeOnce sync.Once
}

// Open loads the drive from opts.Snapshots, seeding and saving the default
// folders when nothing was stored yet.
//
// A loaded snapshot missing any of the default folders gets them added.
// A snapshot that violates the hierarchy invariants is rejected.
func Open(ctx context.Context, opts Options) (*Drive, error) {
	if opts.Snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}

	now := opts.Engine.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Engine.Metrics
	if m == nil {
		m = metrics.NewNoopDriveMetrics()
	}

	// Step 1: load or seed
	seeded := false
	snap, err := opts.Snapshots.Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		logger.Info("No saved drive found, seeding default folders")
		snap = drive.NewSeedSnapshot(now())
		seeded = true
	case err != nil:
		return nil, fmt.Errorf("failed to load drive: %w", err)
	}

	// Step 2: rebuild the hierarchy
	store, err := hierarchy.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("stored drive is invalid: %w", err)
	}
	added, err := store.EnsureFolders(drive.DefaultFolders(now()))
	if err != nil {
		return nil, fmt.Errorf("stored drive is invalid: %w", err)
	}
	if added > 0 && !seeded {
		logger.Warn("Stored drive was missing %d default folder(s); restored", added)
	}

	d := &Drive{
		engine:    engine.New(store, opts.Engine),
		snapshots: opts.Snapshots,
		content:   opts.Content,
		metrics:   m,
		pending:   make(map[content.ID]int),
	}

	// Step 3: persist the seed or repair right away
	if seeded || added > 0 {
		if err := d.Flush(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("Drive opened: %d folder(s), %d file(s)", store.FolderCount(), store.FileCount())
	return d, nil
}

// ============================================================================
// Persistence
// ============================================================================

// persist saves after a mutation. Failures mark the drive dirty instead of
// failing the already committed mutation.
func (d *Drive) persist(ctx context.Context) {
	if err := d.Flush(ctx); err != nil {
		logger.Error("Failed to save drive snapshot, will retry on next change: %v", err)
	}
}

// Flush saves the current state to the snapshot store.
func (d *Drive) Flush(ctx context.Context) (err error) {
	defer func(start time.Time) { d.metrics.RecordOperation("SaveSnapshot", time.Since(start), err) }(time.Now())

	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	// Taken under saveMu, so a later save always carries a later state
	snap := d.engine.Snapshot()
	if err := d.snapshots.Save(ctx, snap); err != nil {
		d.dirty = true
		return fmt.Errorf("failed to save drive: %w", err)
	}
	d.dirty = false
	return nil
}

// Dirty reports whether the last save failed.
func (d *Drive) Dirty() bool {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	return d.dirty
}

// ============================================================================
// Mutations
// ============================================================================

// CreateFolder creates a folder and persists the drive.
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (drive.Folder, error) {
	f, err := d.engine.CreateFolder(ctx, name, parentID)
	if err != nil {
		return drive.Folder{}, err
	}
	d.persist(ctx)
	return f, nil
}

// IngestFiles records files whose content already lives somewhere (the
// descriptors carry their refs) and persists the drive.
func (d *Drive) IngestFiles(ctx context.Context, descriptors []drive.FileDescriptor, parentID string) (engine.IngestResult, error) {
	d.refMu.Lock()
	res, err := d.engine.IngestFiles(ctx, descriptors, parentID)
	d.refMu.Unlock()
	if err != nil {
		return engine.IngestResult{}, err
	}
	if len(res.Files) > 0 {
		d.persist(ctx)
	}
	return res, nil
}

// DeleteItem removes a file or a folder subtree, persists the drive, then
// deletes the content no remaining file references.
//
// Content deletion is best effort: failures are logged and left to the
// garbage collector.
func (d *Drive) DeleteItem(ctx context.Context, id string, isFolder bool) (engine.DeleteResult, error) {
	res, err := d.engine.DeleteItem(ctx, id, isFolder)
	if err != nil {
		return engine.DeleteResult{}, err
	}
	if len(res.Folders) == 0 && len(res.Files) == 0 {
		return res, nil
	}
	d.persist(ctx)
	d.releaseContent(ctx, res.Files)
	return res, nil
}

// releaseContent deletes the content of removed files unless another file
// still points at it. A descriptor ingest naming a released ref waits until
// the deletes are done.
func (d *Drive) releaseContent(ctx context.Context, removed []drive.File) {
	if d.content == nil || len(removed) == 0 {
		return
	}

	d.refMu.Lock()
	defer d.refMu.Unlock()

	inUse := d.referencedSet()
	for _, f := range removed {
		id := content.ID(f.ContentRef)
		if id == "" || id.Validate() != nil {
			continue
		}
		if _, shared := inUse[id]; shared {
			continue
		}
		if err := d.content.Delete(ctx, id); err != nil {
			logger.Warn("Failed to delete content %s of %s: %v", id, f.ID, err)
		}
	}
}

// ToggleStar flips the starred flag of a file and persists the drive.
func (d *Drive) ToggleStar(ctx context.Context, id string) (drive.File, error) {
	f, err := d.engine.ToggleStar(ctx, id)
	if err != nil {
		return drive.File{}, err
	}
	d.persist(ctx)
	return f, nil
}

// SetVerified sets the verification flag of a file and persists the drive.
func (d *Drive) SetVerified(ctx context.Context, id string, verified bool) (drive.File, error) {
	f, err := d.engine.SetVerified(ctx, id, verified)
	if err != nil {
		return drive.File{}, err
	}
	d.persist(ctx)
	return f, nil
}

// ============================================================================
// Queries
// ============================================================================

// List projects a location.
func (d *Drive) List(q view.Query) view.Listing {
	var l view.Listing
	d.engine.Read(func(r engine.Reader) {
		l = view.ProjectQuery(r, q)
	})
	return l
}

// Breadcrumbs returns the folder chain from the top level down to folderID.
func (d *Drive) Breadcrumbs(folderID string) ([]drive.Folder, error) {
	var (
		chain []drive.Folder
		err   error
	)
	d.engine.Read(func(r engine.Reader) {
		chain, err = view.Breadcrumbs(r, folderID)
	})
	return chain, err
}

// File returns a file by id.
func (d *Drive) File(id string) (drive.File, error) {
	var (
		f  drive.File
		ok bool
	)
	d.engine.Read(func(r engine.Reader) {
		f, ok = r.File(id)
	})
	if !ok {
		return drive.File{}, drive.NewNotFoundError("file", id)
	}
	return f, nil
}

// Usage returns the current quota report.
func (d *Drive) Usage() quota.Report {
	return d.engine.Usage()
}

// Snapshot returns a deep copy of the current state.
func (d *Drive) Snapshot() *drive.Snapshot {
	return d.engine.Snapshot()
}

// OpenContent returns the file and a reader over its bytes. The caller
// closes the reader.
func (d *Drive) OpenContent(ctx context.Context, fileID string) (drive.File, io.ReadCloser, error) {
	if d.content == nil {
		return drive.File{}, nil, ErrNoContentStore
	}
	f, err := d.File(fileID)
	if err != nil {
		return drive.File{}, nil, err
	}
	if f.ContentRef == "" {
		return drive.File{}, nil, drive.NewNotFoundError("content", fileID)
	}

	r, err := d.content.ReadContent(ctx, content.ID(f.ContentRef))
	if errors.Is(err, content.ErrContentNotFound) || errors.Is(err, content.ErrInvalidContentID) {
		return drive.File{}, nil, drive.NewNotFoundError("content", fileID)
	}
	if err != nil {
		return drive.File{}, nil, err
	}
	return f, r, nil
}

// ============================================================================
// Content references (garbage collection)
// ============================================================================

func (d *Drive) referencedSet() map[content.ID]struct{} {
	refs := make(map[content.ID]struct{})
	d.engine.Read(func(r engine.Reader) {
		r.RangeFiles(func(f drive.File) bool {
			if f.ContentRef != "" {
				refs[content.ID(f.ContentRef)] = struct{}{}
			}
			return true
		})
	})

	d.pendingMu.Lock()
	for id := range d.pending {
		refs[id] = struct{}{}
	}
	d.pendingMu.Unlock()
	return refs
}

// ContentRefs returns every content ID in use: the refs of all files plus
// uploads in flight. It implements gc.ReferenceSource.
func (d *Drive) ContentRefs(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := d.referencedSet()
	ids := make([]content.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Drive) addPending(id content.ID) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[id]++
}

func (d *Drive) donePending(id content.ID) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending[id] <= 1 {
		delete(d.pending, id)
		return
	}
	d.pending[id]--
}

// ContentStore returns the content store, or nil.
func (d *Drive) ContentStore() content.Store {
	return d.content
}

// ============================================================================
// Lifecycle
// ============================================================================

// Healthcheck verifies both stores and that the last save succeeded.
func (d *Drive) Healthcheck(ctx context.Context) error {
	if err := d.snapshots.Healthcheck(ctx); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	if d.content != nil {
		if err := d.content.Healthcheck(ctx); err != nil {
			return fmt.Errorf("content store: %w", err)
		}
	}
	if d.Dirty() {
		return errors.New("drive has unsaved changes")
	}
	return nil
}

// Close saves unsaved changes and closes both stores. Safe to call more
// than once; later calls do nothing.
func (d *Drive) Close(ctx context.Context) error {
	var errs []error
	d.closeOnce.Do(func() {
		if d.Dirty() {
			if err := d.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := d.snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
		}
		if d.content != nil {
			if err := d.content.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close content store: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
