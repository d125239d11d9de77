package metrics

import (
	"time"
)

// DriveMetrics provides observability for the mutation engine.
//
// This interface is optional - if not provided to the engine, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewDriveMetrics()
//	eng := engine.New(store, engine.Options{Metrics: m})
//
//	// Without metrics (no-op)
//	eng := engine.New(store, engine.Options{})
type DriveMetrics interface {
	// RecordOperation records a completed drive operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "CreateFolder", "DeleteItem")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// SetUsage updates the quota gauges.
	//
	// Parameters:
	//   - usedBytes: Sum of all file sizes
	//   - totalBytes: Storage budget
	SetUsage(usedBytes, totalBytes int64)

	// SetCounts updates the entity gauges.
	SetCounts(folders, files int)

	// RecordFreedBytes records bytes released by a delete.
	RecordFreedBytes(bytes int64)

	// RecordRejectedDescriptors records descriptors skipped by an ingest.
	RecordRejectedDescriptors(count int)
}

// NewNoopDriveMetrics returns a DriveMetrics that discards everything.
func NewNoopDriveMetrics() DriveMetrics {
	return noopDriveMetrics{}
}

// noopDriveMetrics is a no-op implementation of DriveMetrics with zero overhead.
type noopDriveMetrics struct{}

func (noopDriveMetrics) RecordOperation(string, time.Duration, error) {}
func (noopDriveMetrics) SetUsage(int64, int64)                        {}
func (noopDriveMetrics) SetCounts(int, int)                           {}
func (noopDriveMetrics) RecordFreedBytes(int64)                       {}
func (noopDriveMetrics) RecordRejectedDescriptors(int)                {}
