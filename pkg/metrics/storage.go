package metrics

import (
	"time"
)

// StorageMetrics provides observability for the snapshot and content
// backends.
//
// Backends label every sample with their own kind ("badger", "s3", ...), so
// one instance can be shared by all stores of a process.
type StorageMetrics interface {
	// RecordStorageOperation records a backend call.
	//
	// Parameters:
	//   - backend: Store kind (e.g., "badger", "postgres", "s3")
	//   - operation: Backend operation (e.g., "load", "save", "put", "delete")
	//   - duration: Time taken
	//   - err: Error if failed
	RecordStorageOperation(backend, operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by a backend.
	//
	// Parameters:
	//   - backend: Store kind
	//   - direction: "read" or "write"
	//   - bytes: Payload size
	RecordBytes(backend, direction string, bytes int64)
}

// NewNoopStorageMetrics returns a StorageMetrics that discards everything.
func NewNoopStorageMetrics() StorageMetrics {
	return noopStorageMetrics{}
}

type noopStorageMetrics struct{}

func (noopStorageMetrics) RecordStorageOperation(string, string, time.Duration, error) {}
func (noopStorageMetrics) RecordBytes(string, string, int64)                           {}

// OrNoopStorage returns m, or a no-op implementation when m is nil.
func OrNoopStorage(m StorageMetrics) StorageMetrics {
	if m == nil {
		return noopStorageMetrics{}
	}
	return m
}
