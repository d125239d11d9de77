package drive

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for new folders and files.
//
// Implementations must never return the same value twice within a process
// and must be safe for concurrent use.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (v4) UUIDs.
//
// Collisions are statistically negligible, so no counter or state needs to
// be persisted alongside the drive.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator issues "<prefix>-<n>" identifiers from a counter.
// It is deterministic, which makes it convenient for tests and fixtures.
type SequenceGenerator struct {
	prefix string
	next   atomic.Uint64
}

// NewSequenceGenerator creates a SequenceGenerator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NewID implements IDGenerator.
func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.next.Add(1))
}
