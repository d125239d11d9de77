// Package engine is the only writer of a drive hierarchy.
//
// Each operation is one atomic transition over a hierarchy.Store: it
// validates the request, commits it in a single store write, then
// recomputes quota usage from scratch. All operations serialize on one lock,
// so no two mutations ever interleave.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/hierarchy"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// Reader is the read-only surface handed out by Engine.Read.
type Reader interface {
	view.Reader
	quota.FileRanger

	File(id string) (drive.File, bool)
	IsRealFolder(id string) bool
	FolderCount() int
	FileCount() int
	Snapshot() *drive.Snapshot
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	// IDs issues ids for new entities. Default: drive.UUIDGenerator
	IDs drive.IDGenerator

	// Now is the clock. Default: time.Now
	Now func() time.Time

	// Metrics receives operation metrics. Default: no-op
	Metrics metrics.DriveMetrics

	// TotalBytes is the storage budget. Default: quota.DefaultTotalBytes
	TotalBytes int64

	// EnforceQuota makes IngestFiles fail with ErrNoSpace when the accepted
	// files would exceed TotalBytes
	EnforceQuota bool
}

// Engine applies mutations to a hierarchy store.
//
// Thread Safety:
// Mutations take the write lock for their whole duration; Read, Snapshot and
// Usage take the read lock. The wrapped store must not be used directly
// once handed to the engine.
type Engine struct {
	mu    sync.RWMutex
	store *hierarchy.Store

	ids     drive.IDGenerator
	now     func() time.Time
	metrics metrics.DriveMetrics

	totalBytes   int64
	enforceQuota bool
}

// New creates an engine over store.
func New(store *hierarchy.Store, opts Options) *Engine {
	if opts.IDs == nil {
		opts.IDs = drive.UUIDGenerator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopDriveMetrics()
	}
	if opts.TotalBytes <= 0 {
		opts.TotalBytes = quota.DefaultTotalBytes
	}

	e := &Engine{
		store:        store,
		ids:          opts.IDs,
		now:          opts.Now,
		metrics:      opts.Metrics,
		totalBytes:   opts.TotalBytes,
		enforceQuota: opts.EnforceQuota,
	}
	e.recompute()
	return e
}

// Read runs fn with read access to the store. fn must not retain r.
func (e *Engine) Read(fn func(r Reader)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.store)
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() *drive.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot()
}

// Usage returns a freshly computed quota report.
func (e *Engine) Usage() quota.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return quota.Compute(e.store, e.totalBytes)
}

// TotalBytes returns the storage budget.
func (e *Engine) TotalBytes() int64 {
	return e.totalBytes
}

// recompute refreshes the usage and count gauges. It must run after every
// committed mutation, with the lock held.
func (e *Engine) recompute() quota.Report {
	r := quota.Compute(e.store, e.totalBytes)
	e.metrics.SetUsage(r.UsedBytes, r.TotalBytes)
	e.metrics.SetCounts(e.store.FolderCount(), r.FileCount)
	return r
}

// observe records one operation. Use with defer and a named error result.
func (e *Engine) observe(operation string, start time.Time, err *error) {
	e.metrics.RecordOperation(operation, time.Since(start), *err)
	if *err != nil {
		logger.Debug("%s failed: %v", operation, *err)
	}
}

// checkParent resolves parentID for a new child. Pseudo-locations are a
// caller mistake (ValidationError); a missing folder is an InvariantViolation
// because ids only ever come from the store itself.
func (e *Engine) checkParent(parentID string) error {
	if drive.IsPseudoFolder(parentID) || parentID == drive.VerifiedLocationID {
		return drive.NewValidationError("cannot add items to %s", parentID)
	}
	if !e.store.IsRealFolder(parentID) {
		return drive.NewInvariantViolation(parentID, "parent folder does not exist")
	}
	return nil
}

// CreateFolder creates a folder named name under parentID.
//
// The name is trimmed; an empty result is a ValidationError. An empty
// parentID creates a root-level folder. Names need not be unique within a
// parent.
func (e *Engine) CreateFolder(ctx context.Context, name, parentID string) (_ drive.Folder, err error) {
	defer e.observe("CreateFolder", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return drive.Folder{}, err
	}

	name, err = normalizeFolderName(name)
	if err != nil {
		return drive.Folder{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	folder := drive.Folder{
		ID:        e.ids.NewID(),
		Name:      name,
		CreatedAt: e.now(),
	}
	if parentID != "" {
		if err = e.checkParent(parentID); err != nil {
			return drive.Folder{}, err
		}
		folder.ParentID = drive.StringPtr(parentID)
	}

	if err = e.store.InsertFolder(folder); err != nil {
		return drive.Folder{}, err
	}
	e.recompute()

	logger.Debug("Created folder %q (%s) in %q", folder.Name, folder.ID, parentID)
	return folder, nil
}

// Rejection reports one descriptor skipped by IngestFiles.
type Rejection struct {
	// Index is the position of the descriptor in the request
	Index int    `json:"index"`
	Name  string `json:"name"`
	Err   error  `json:"-"`

	// Reason is Err rendered for serialization
	Reason string `json:"reason"`
}

// IngestResult is the outcome of IngestFiles.
type IngestResult struct {
	Files    []drive.File `json:"files"`
	Rejected []Rejection  `json:"rejected"`
}

// IngestFiles creates one file under parentID per well-formed descriptor.
//
// Files start unstarred and unverified with LastModified set to now.
// Malformed descriptors (blank name, negative size) are skipped and reported
// in Rejected; the accepted ones are inserted as one atomic batch. An invalid
// parent fails the whole call, as does exceeding the quota when enforcement
// is on.
func (e *Engine) IngestFiles(ctx context.Context, descriptors []drive.FileDescriptor, parentID string) (_ IngestResult, err error) {
	defer e.observe("IngestFiles", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.checkParent(parentID); err != nil {
		return IngestResult{}, err
	}

	// Step 1: validate every descriptor, keeping the good ones
	result := IngestResult{Files: []drive.File{}, Rejected: []Rejection{}}
	now := e.now()
	var incoming int64
	for i, d := range descriptors {
		norm, verr := normalizeDescriptor(d)
		if verr != nil {
			result.Rejected = append(result.Rejected, Rejection{
				Index:  i,
				Name:   d.Name,
				Err:    verr,
				Reason: verr.Error(),
			})
			continue
		}
		result.Files = append(result.Files, drive.File{
			ID:           e.ids.NewID(),
			Name:         norm.Name,
			MimeType:     norm.MimeType,
			SizeBytes:    norm.SizeBytes,
			LastModified: now,
			ParentID:     parentID,
			ContentRef:   norm.ContentRef,
		})
		incoming = quota.AddSizes(incoming, norm.SizeBytes)
	}

	if len(result.Rejected) > 0 {
		e.metrics.RecordRejectedDescriptors(len(result.Rejected))
		logger.Warn("Ingest into %s skipped %d malformed descriptor(s)", parentID, len(result.Rejected))
	}

	// Step 2: quota check on the whole accepted batch
	if e.enforceQuota && quota.Exceeds(e.store, e.totalBytes, incoming) {
		return IngestResult{}, &drive.Error{
			Code:    drive.ErrNoSpace,
			Message: "storage quota exceeded",
			ID:      parentID,
		}
	}

	// Step 3: commit
	if len(result.Files) > 0 {
		if err = e.store.InsertFiles(result.Files); err != nil {
			return IngestResult{}, err
		}
	}
	e.recompute()

	logger.Debug("Ingested %d file(s) into %s", len(result.Files), parentID)
	return result, nil
}

// DeleteResult is the outcome of DeleteItem.
type DeleteResult struct {
	FreedBytes int64 `json:"freedBytes"`

	// Folders are the ids of the removed folders
	Folders []string `json:"folders"`

	// Files are the removed files, so callers can release their content
	Files []drive.File `json:"files"`
}

// DeleteItem removes a file, or a folder together with everything beneath
// it, and reports the bytes freed.
//
// An id that does not resolve to an item of the requested kind is a no-op
// returning a zero result, so repeated deletes are harmless. The well-known
// folders cannot be deleted.
func (e *Engine) DeleteItem(ctx context.Context, id string, isFolder bool) (_ DeleteResult, err error) {
	defer e.observe("DeleteItem", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}

	if isFolder && drive.IsWellKnownFolder(id) {
		return DeleteResult{}, drive.NewValidationError("cannot delete well-known folder %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result := DeleteResult{Folders: []string{}, Files: []drive.File{}}

	if !isFolder {
		f, ok := e.store.File(id)
		if !ok {
			return result, nil
		}
		if err = e.store.Remove(nil, []string{id}); err != nil {
			return DeleteResult{}, err
		}
		result.FreedBytes = f.SizeBytes
		result.Files = append(result.Files, f)
	} else {
		if !e.store.HasFolder(id) {
			return result, nil
		}

		result.Folders = descendantClosure(e.store, id)
		fileIDs := make([]string, 0)
		for _, folderID := range result.Folders {
			for _, f := range e.store.FilesIn(folderID) {
				fileIDs = append(fileIDs, f.ID)
				result.Files = append(result.Files, f)
				result.FreedBytes += f.SizeBytes
			}
		}

		if err = e.store.Remove(result.Folders, fileIDs); err != nil {
			return DeleteResult{}, err
		}
	}

	e.recompute()
	e.metrics.RecordFreedBytes(result.FreedBytes)

	logger.Debug("Deleted %s: %d folder(s), %d file(s), %d bytes freed",
		id, len(result.Folders), len(result.Files), result.FreedBytes)
	return result, nil
}

// descendantClosure returns root and every folder reachable from it by
// parent-to-child edges, root first. It is a worklist walk over the store's
// child index, linear in the size of the closure.
func descendantClosure(s *hierarchy.Store, root string) []string {
	closure := []string{root}
	seen := map[string]struct{}{root: {}}

	for next := 0; next < len(closure); next++ {
		for _, child := range s.ChildFolderIDs(closure[next]) {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			closure = append(closure, child)
		}
	}
	return closure
}

// ToggleStar flips the starred flag of a file. Returns NotFound when the
// file does not exist.
func (e *Engine) ToggleStar(ctx context.Context, id string) (_ drive.File, err error) {
	defer e.observe("ToggleStar", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return drive.File{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.store.UpdateFile(id, func(f *drive.File) { f.Starred = !f.Starred })
	if err != nil {
		return drive.File{}, err
	}
	e.recompute()
	return f, nil
}

// SetVerified sets the verification flag of a file. Returns NotFound when
// the file does not exist.
func (e *Engine) SetVerified(ctx context.Context, id string, verified bool) (_ drive.File, err error) {
	defer e.observe("SetVerified", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return drive.File{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.store.UpdateFile(id, func(f *drive.File) { f.Verified = verified })
	if err != nil {
		return drive.File{}, err
	}
	e.recompute()
	return f, nil
}
