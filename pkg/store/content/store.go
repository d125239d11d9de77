// Package content defines where file bytes live.
//
// The drive core only records an opaque ContentRef per file. A content
// Store turns bytes into such a reference and back, and nothing else: names,
// hierarchy and quota are the core's business.
package content

import (
	"context"
	"io"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store manages raw file data addressed by ID.
//
// Implementations:
//   - memory: process-local, for tests and ephemeral drives
//   - fs: one file per ID under a root directory
//   - s3: one object per ID in a bucket (Amazon S3 or compatible)
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writes to the
// same ID are last-write-wins; callers generate a fresh ID per upload so
// this never happens in practice.
type Store interface {
	// WriteContent stores everything read from r under id, replacing any
	// previous content. It returns the number of bytes written.
	//
	// A failed write leaves no partial content visible under id.
	WriteContent(ctx context.Context, id ID, r io.Reader) (int64, error)

	// ReadContent returns a reader for the content. The caller closes it.
	//
	// Returns ErrContentNotFound if id does not exist.
	ReadContent(ctx context.Context, id ID) (io.ReadCloser, error)

	// GetContentSize returns the content size in bytes without reading it.
	//
	// Returns ErrContentNotFound if id does not exist.
	GetContentSize(ctx context.Context, id ID) (int64, error)

	// ContentExists reports whether id exists. A missing id is not an error.
	ContentExists(ctx context.Context, id ID) (bool, error)

	// Delete removes the content. Deleting a missing id succeeds.
	Delete(ctx context.Context, id ID) error

	// Healthcheck verifies the backend is reachable and writable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// ============================================================================
// GarbageCollectableStore Interface
// ============================================================================

// GarbageCollectableStore is an optional interface for orphan cleanup.
//
// The collector in pkg/gc lists every stored ID, subtracts the refs the
// drive still holds, and deletes the rest in batches.
type GarbageCollectableStore interface {
	Store

	// ListAllContent returns every stored ID, in no particular order.
	ListAllContent(ctx context.Context) ([]ID, error)

	// DeleteBatch removes many IDs. The map holds per-ID failures (empty
	// when all succeeded); the error is for failures of the whole call.
	DeleteBatch(ctx context.Context, ids []ID) (map[ID]error, error)
}
