// Package testing provides a conformance suite for snapshot.Store
// implementations.
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the snapshot.Store contract, not implementation
// details, so every backend runs the same checks.
//
// Usage:
//
//	func TestMySnapshotStore(t *testing.T) {
//	    suite := &snapshottest.StoreTestSuite{
//	        NewStore: func(t *testing.T) snapshot.Store {
//	            return mystore.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite closes
	// it when the test ends.
	NewStore func(t *testing.T) snapshot.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("LoadEmpty", suite.testLoadEmpty)
	t.Run("RoundTrip", suite.testRoundTrip)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("PreservesOrder", suite.testPreservesOrder)
	t.Run("SaveCopiesInput", suite.testSaveCopiesInput)
	t.Run("EmptySnapshot", suite.testEmptySnapshot)
	t.Run("Healthcheck", suite.testHealthcheck)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) store(t *testing.T) snapshot.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Fixture returns a snapshot exercising every field: root-level and nested
// folders, starred and verified files, zero and large sizes. Timestamps
// have microsecond precision, the finest every backend keeps.
func Fixture() *drive.Snapshot {
	base := time.Date(2025, 6, 1, 9, 30, 15, 123456000, time.UTC)
	snap := drive.NewSeedSnapshot(base)
	snap.Folders = append(snap.Folders,
		drive.Folder{ID: "f-photos", Name: "Photos", ParentID: drive.StringPtr(drive.RootFolderID), CreatedAt: base.Add(time.Minute)},
		drive.Folder{ID: "f-summer", Name: "Summer 2024 ☀", ParentID: drive.StringPtr("f-photos"), CreatedAt: base.Add(2 * time.Minute)},
	)
	snap.Files = append(snap.Files,
		drive.File{
			ID: "x-1", Name: "beach.jpg", MimeType: "image/jpeg", SizeBytes: 3 << 20,
			LastModified: base.Add(3 * time.Minute), ParentID: "f-summer",
			Starred: true, ContentRef: "content/ab/cd",
		},
		drive.File{
			ID: "x-2", Name: "passport.pdf", MimeType: "application/pdf", SizeBytes: 0,
			LastModified: base.Add(4 * time.Minute), ParentID: drive.RootFolderID,
			Verified: true, ContentRef: "s3://bucket/key",
		},
		drive.File{
			ID: "x-3", Name: "huge.iso", MimeType: "application/octet-stream", SizeBytes: 12 << 30,
			LastModified: base.Add(5 * time.Minute), ParentID: "f-photos",
		},
	)
	return snap
}

// Normalize makes snapshots from different backends comparable: UTC
// timestamps and non-nil slices.
func Normalize(snap *drive.Snapshot) *drive.Snapshot {
	out := snap.Clone()
	if out.Folders == nil {
		out.Folders = []drive.Folder{}
	}
	if out.Files == nil {
		out.Files = []drive.File{}
	}
	for i := range out.Folders {
		out.Folders[i].CreatedAt = out.Folders[i].CreatedAt.UTC()
	}
	for i := range out.Files {
		out.Files[i].LastModified = out.Files[i].LastModified.UTC()
	}
	return out
}

func (suite *StoreTestSuite) testLoadEmpty(t *testing.T) {
	s := suite.store(t)

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func (suite *StoreTestSuite) testRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	want := Fixture()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Normalize(want), Normalize(got))

	// Root-level folders keep a nil parent
	for _, f := range got.Folders[:5] {
		assert.Nil(t, f.ParentID, f.ID)
	}
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Save(ctx, Fixture()))

	smaller := drive.NewSeedSnapshot(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, smaller))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Normalize(smaller), Normalize(got), "no entity of the first snapshot survives")
}

func (suite *StoreTestSuite) testPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	snap := drive.NewSeedSnapshot(time.Unix(1700000000, 0).UTC())
	// Ids deliberately sort differently from insertion order
	for i := 0; i < 120; i++ {
		snap.Files = append(snap.Files, drive.File{
			ID:           fmt.Sprintf("id-%03d", (i*37)%120),
			Name:         fmt.Sprintf("n%d", i),
			ParentID:     drive.RootFolderID,
			SizeBytes:    int64(i),
			LastModified: time.Unix(1700000000+int64(i), 0).UTC(),
		})
	}
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Files, len(snap.Files))
	for i := range snap.Files {
		assert.Equal(t, snap.Files[i].ID, got.Files[i].ID, "position %d", i)
	}
	for i := range snap.Folders {
		assert.Equal(t, snap.Folders[i].ID, got.Folders[i].ID, "position %d", i)
	}
}

func (suite *StoreTestSuite) testSaveCopiesInput(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	snap := Fixture()
	require.NoError(t, s.Save(ctx, snap))
	snap.Files[0].Name = "mutated"
	*snap.Folders[5].ParentID = "mutated"

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beach.jpg", got.Files[0].Name)
	assert.Equal(t, drive.RootFolderID, got.Folders[5].Parent())

	// And the loaded copy is independent of the store
	got.Files[0].Name = "again"
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beach.jpg", again.Files[0].Name)
}

func (suite *StoreTestSuite) testEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Save(ctx, &drive.Snapshot{}))

	got, err := s.Load(ctx)
	require.NoError(t, err, "an empty snapshot is still a snapshot")
	assert.Empty(t, got.Folders)
	assert.Empty(t, got.Files)
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	s := suite.store(t)
	assert.NoError(t, s.Healthcheck(context.Background()))
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	s := suite.store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Save(ctx, Fixture()))
	_, err := s.Load(ctx)
	assert.Error(t, err)
}
