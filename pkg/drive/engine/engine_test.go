package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/hierarchy"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manual clock advancing one second per reading.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

// recordingMetrics captures what the engine reports.
type recordingMetrics struct {
	mu         sync.Mutex
	ops        map[string]int
	failures   map[string]int
	used       int64
	folders    int
	files      int
	freed      int64
	rejections int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: map[string]int{}, failures: map[string]int{}}
}

func (m *recordingMetrics) RecordOperation(op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
	if err != nil {
		m.failures[op]++
	}
}
func (m *recordingMetrics) SetUsage(used, _ int64) { m.used = used }
func (m *recordingMetrics) SetCounts(folders, files int) {
	m.folders, m.files = folders, files
}
func (m *recordingMetrics) RecordFreedBytes(b int64)        { m.freed += b }
func (m *recordingMetrics) RecordRejectedDescriptors(n int) { m.rejections += n }

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	store, err := hierarchy.FromSnapshot(drive.NewSeedSnapshot(time.Unix(0, 0).UTC()))
	require.NoError(t, err)

	if opts.IDs == nil {
		opts.IDs = drive.NewSequenceGenerator("id")
	}
	if opts.Now == nil {
		c := &clock{cur: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts.Now = c.Now
	}
	return New(store, opts)
}

func desc(name string, size int64) drive.FileDescriptor {
	return drive.FileDescriptor{Name: name, MimeType: "text/plain", SizeBytes: size, ContentRef: "ref://" + name}
}

func ingestOne(t *testing.T, e *Engine, parent, name string, size int64) drive.File {
	t.Helper()
	res, err := e.IngestFiles(context.Background(), []drive.FileDescriptor{desc(name, size)}, parent)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	return res.Files[0]
}

func sumSizes(e *Engine) int64 {
	var sum int64
	for _, f := range e.Snapshot().Files {
		sum += f.SizeBytes
	}
	return sum
}

// ============================================================================
// CreateFolder
// ============================================================================

func TestCreateFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("TrimsName", func(t *testing.T) {
		e := newEngine(t, Options{})
		f, err := e.CreateFolder(ctx, "  Photos \t", drive.RootFolderID)
		require.NoError(t, err)

		assert.Equal(t, "id-1", f.ID)
		assert.Equal(t, "Photos", f.Name)
		assert.Equal(t, drive.RootFolderID, f.Parent())
		assert.False(t, f.CreatedAt.IsZero())
	})

	t.Run("EmptyName", func(t *testing.T) {
		e := newEngine(t, Options{})
		for _, name := range []string{"", "   ", "\n\t"} {
			_, err := e.CreateFolder(ctx, name, drive.RootFolderID)
			assert.True(t, drive.IsValidation(err), "%q", name)
		}
		assert.Len(t, e.Snapshot().Folders, 5)
	})

	t.Run("DuplicateNamesAllowed", func(t *testing.T) {
		e := newEngine(t, Options{})
		a, err := e.CreateFolder(ctx, "Docs", drive.RootFolderID)
		require.NoError(t, err)
		b, err := e.CreateFolder(ctx, "Docs", drive.RootFolderID)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("RootLevel", func(t *testing.T) {
		e := newEngine(t, Options{})
		f, err := e.CreateFolder(ctx, "Loose", "")
		require.NoError(t, err)
		assert.True(t, f.IsRootLevel())
	})

	t.Run("PseudoParent", func(t *testing.T) {
		e := newEngine(t, Options{})
		for _, parent := range []string{drive.StarredFolderID, drive.TrashFolderID, drive.VerifiedLocationID} {
			_, err := e.CreateFolder(ctx, "x", parent)
			assert.True(t, drive.IsValidation(err), parent)
		}
	})

	t.Run("UnknownParent", func(t *testing.T) {
		e := newEngine(t, Options{})
		before := e.Snapshot()
		_, err := e.CreateFolder(ctx, "x", "ghost")
		assert.True(t, drive.IsInvariantViolation(err))
		assert.Equal(t, before, e.Snapshot())
	})

	t.Run("CancelledContext", func(t *testing.T) {
		e := newEngine(t, Options{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.CreateFolder(cctx, "x", drive.RootFolderID)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// ============================================================================
// IngestFiles
// ============================================================================

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults", func(t *testing.T) {
		e := newEngine(t, Options{})
		res, err := e.IngestFiles(ctx, []drive.FileDescriptor{
			desc("a.txt", 10),
			{Name: "b.bin", SizeBytes: 0},
		}, drive.RootFolderID)
		require.NoError(t, err)
		require.Len(t, res.Files, 2)
		assert.Empty(t, res.Rejected)

		a := res.Files[0]
		assert.False(t, a.Starred)
		assert.False(t, a.Verified)
		assert.Equal(t, drive.RootFolderID, a.ParentID)
		assert.Equal(t, "ref://a.txt", a.ContentRef)
		assert.Equal(t, res.Files[0].LastModified, res.Files[1].LastModified, "one timestamp per call")
		assert.Equal(t, DefaultMimeType, res.Files[1].MimeType)
	})

	t.Run("PartialFailure", func(t *testing.T) {
		m := newRecordingMetrics()
		e := newEngine(t, Options{Metrics: m})
		res, err := e.IngestFiles(ctx, []drive.FileDescriptor{
			desc("good-1", 5),
			desc("negative", -1),
			desc("  ", 3),
			desc("good-2", 7),
		}, drive.RootFolderID)
		require.NoError(t, err)

		require.Len(t, res.Files, 2)
		assert.Equal(t, "good-1", res.Files[0].Name)
		assert.Equal(t, "good-2", res.Files[1].Name)

		require.Len(t, res.Rejected, 2)
		assert.Equal(t, 1, res.Rejected[0].Index)
		assert.Equal(t, 2, res.Rejected[1].Index)
		assert.True(t, drive.IsValidation(res.Rejected[0].Err))
		assert.NotEmpty(t, res.Rejected[0].Reason)

		assert.Equal(t, int64(12), e.Usage().UsedBytes)
		assert.Equal(t, 2, m.rejections)
	})

	t.Run("AllRejected", func(t *testing.T) {
		e := newEngine(t, Options{})
		res, err := e.IngestFiles(ctx, []drive.FileDescriptor{desc("x", -5)}, drive.RootFolderID)
		require.NoError(t, err)
		assert.Empty(t, res.Files)
		assert.Len(t, res.Rejected, 1)
	})

	t.Run("BadParent", func(t *testing.T) {
		e := newEngine(t, Options{})
		_, err := e.IngestFiles(ctx, []drive.FileDescriptor{desc("x", 1)}, drive.RecentFolderID)
		assert.True(t, drive.IsValidation(err))

		_, err = e.IngestFiles(ctx, []drive.FileDescriptor{desc("x", 1)}, "ghost")
		assert.True(t, drive.IsInvariantViolation(err))
		assert.Zero(t, e.Usage().FileCount)
	})

	t.Run("QuotaEnforced", func(t *testing.T) {
		e := newEngine(t, Options{TotalBytes: 100, EnforceQuota: true})
		ingestOne(t, e, drive.RootFolderID, "big", 90)

		_, err := e.IngestFiles(ctx, []drive.FileDescriptor{desc("a", 5), desc("b", 6)}, drive.RootFolderID)
		assert.True(t, drive.IsNoSpace(err))
		assert.Equal(t, 1, e.Usage().FileCount, "batch is all or nothing")

		ingestOne(t, e, drive.RootFolderID, "fits", 10)
	})

	t.Run("QuotaEnforcedHugeSizes", func(t *testing.T) {
		e := newEngine(t, Options{TotalBytes: 1 << 30, EnforceQuota: true})
		half := int64(math.MaxInt64/2 + 1)

		_, err := e.IngestFiles(ctx, []drive.FileDescriptor{desc("a", half), desc("b", half)}, drive.RootFolderID)
		assert.True(t, drive.IsNoSpace(err))

		usage := e.Usage()
		assert.Zero(t, usage.FileCount)
		assert.Zero(t, usage.UsedBytes)
	})

	t.Run("HugeSizesSaturate", func(t *testing.T) {
		e := newEngine(t, Options{TotalBytes: 1 << 30})
		half := int64(math.MaxInt64/2 + 1)

		_, err := e.IngestFiles(ctx, []drive.FileDescriptor{desc("a", half), desc("b", half)}, drive.RootFolderID)
		require.NoError(t, err)

		usage := e.Usage()
		assert.Equal(t, int64(math.MaxInt64), usage.UsedBytes)
		assert.Equal(t, 1.0, usage.Fraction)
	})

	t.Run("QuotaNotEnforced", func(t *testing.T) {
		e := newEngine(t, Options{TotalBytes: 100})
		ingestOne(t, e, drive.RootFolderID, "huge", 1000)
		assert.Equal(t, 1.0, e.Usage().Fraction)
	})
}

// ============================================================================
// DeleteItem
// ============================================================================

func TestDeleteItem_RecursiveClosure(t *testing.T) {
	ctx := context.Background()
	m := newRecordingMetrics()
	e := newEngine(t, Options{Metrics: m})

	a, err := e.CreateFolder(ctx, "A", drive.RootFolderID)
	require.NoError(t, err)
	b, err := e.CreateFolder(ctx, "B", a.ID)
	require.NoError(t, err)
	c, err := e.CreateFolder(ctx, "C", b.ID)
	require.NoError(t, err)

	ingestOne(t, e, a.ID, "fa", 100)
	ingestOne(t, e, b.ID, "fb", 20)
	ingestOne(t, e, c.ID, "fc", 3)
	keep := ingestOne(t, e, drive.RootFolderID, "keep", 1000)

	res, err := e.DeleteItem(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(123), res.FreedBytes)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, res.Folders)
	assert.Len(t, res.Files, 3)

	snap := e.Snapshot()
	assert.Len(t, snap.Folders, 5, "only the well-known folders remain")
	require.Len(t, snap.Files, 1)
	assert.Equal(t, keep.ID, snap.Files[0].ID)
	assert.Equal(t, int64(1000), e.Usage().UsedBytes)
	assert.Equal(t, int64(123), m.freed)

	// Idempotent on the now-absent id
	again, err := e.DeleteItem(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Zero(t, again.FreedBytes)
	assert.Empty(t, again.Folders)
	assert.Equal(t, snap, e.Snapshot())
}

func TestDeleteItem_File(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	f := ingestOne(t, e, drive.RootFolderID, "x", 42)

	res, err := e.DeleteItem(ctx, f.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.FreedBytes)
	assert.Equal(t, f.ID, res.Files[0].ID)

	res, err = e.DeleteItem(ctx, f.ID, false)
	require.NoError(t, err)
	assert.Zero(t, res.FreedBytes)
}

func TestDeleteItem_KindMismatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	folder, err := e.CreateFolder(ctx, "F", drive.RootFolderID)
	require.NoError(t, err)
	file := ingestOne(t, e, folder.ID, "x", 1)

	res, err := e.DeleteItem(ctx, file.ID, true)
	require.NoError(t, err)
	assert.Zero(t, res.FreedBytes)

	res, err = e.DeleteItem(ctx, folder.ID, false)
	require.NoError(t, err)
	assert.Zero(t, res.FreedBytes)
	assert.Equal(t, 1, e.Usage().FileCount)
}

func TestDeleteItem_WellKnown(t *testing.T) {
	e := newEngine(t, Options{})
	for _, id := range []string{drive.RootFolderID, drive.SharedFolderID, drive.RecentFolderID, drive.StarredFolderID, drive.TrashFolderID} {
		_, err := e.DeleteItem(context.Background(), id, true)
		assert.True(t, drive.IsValidation(err), id)
	}
	assert.Len(t, e.Snapshot().Folders, 5)
}

func TestDescendantClosure_Wide(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})

	// A balanced tree of depth 4 and fan-out 4: 1+4+16+64+256 folders
	top, err := e.CreateFolder(ctx, "top", drive.RootFolderID)
	require.NoError(t, err)
	level := []string{top.ID}
	total := 1
	for depth := 0; depth < 4; depth++ {
		var next []string
		for _, parent := range level {
			for i := 0; i < 4; i++ {
				f, err := e.CreateFolder(ctx, fmt.Sprintf("d%d-%d", depth, i), parent)
				require.NoError(t, err)
				next = append(next, f.ID)
			}
		}
		total += len(next)
		level = next
	}
	for _, leaf := range level {
		ingestOne(t, e, leaf, "leaf", 2)
	}

	res, err := e.DeleteItem(ctx, top.ID, true)
	require.NoError(t, err)
	assert.Len(t, res.Folders, total)
	assert.Equal(t, int64(2*len(level)), res.FreedBytes)
	assert.Equal(t, top.ID, res.Folders[0])
}

// ============================================================================
// ToggleStar / SetVerified
// ============================================================================

func TestToggleStar(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	f := ingestOne(t, e, drive.RootFolderID, "x", 1)

	once, err := e.ToggleStar(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, once.Starred)

	twice, err := e.ToggleStar(ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Starred, twice.Starred)
	assert.Equal(t, f, twice, "involution leaves every attribute as it was")

	_, err = e.ToggleStar(ctx, "ghost")
	assert.True(t, drive.IsNotFound(err))
}

func TestSetVerified(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{})
	f := ingestOne(t, e, drive.RootFolderID, "passport.pdf", 1)

	got, err := e.SetVerified(ctx, f.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	var listed []drive.File
	e.Read(func(r Reader) {
		listed = view.Project(r, drive.Verified, "").Files
	})
	require.Len(t, listed, 1)

	_, err = e.SetVerified(ctx, "ghost", true)
	assert.True(t, drive.IsNotFound(err))
}

// ============================================================================
// Properties
// ============================================================================

// TestQuotaConsistency runs random mutation sequences and checks that usage
// always equals an independent sum over the files.
func TestQuotaConsistency(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	m := newRecordingMetrics()
	e := newEngine(t, Options{Metrics: m})

	folders := []string{drive.RootFolderID}
	var files []string

	for step := 0; step < 500; step++ {
		switch rng.Intn(5) {
		case 0:
			parent := folders[rng.Intn(len(folders))]
			if f, err := e.CreateFolder(ctx, fmt.Sprintf("f%d", step), parent); err == nil {
				folders = append(folders, f.ID)
			}
		case 1, 2:
			parent := folders[rng.Intn(len(folders))]
			n := rng.Intn(4)
			var batch []drive.FileDescriptor
			for i := 0; i < n; i++ {
				batch = append(batch, desc(fmt.Sprintf("file%d-%d", step, i), rng.Int63n(2000)-100))
			}
			if res, err := e.IngestFiles(ctx, batch, parent); err == nil {
				for _, f := range res.Files {
					files = append(files, f.ID)
				}
			}
		case 3:
			if len(folders) > 1 {
				_, err := e.DeleteItem(ctx, folders[1+rng.Intn(len(folders)-1)], true)
				require.NoError(t, err)
			}
		case 4:
			if len(files) > 0 {
				id := files[rng.Intn(len(files))]
				if rng.Intn(2) == 0 {
					_, _ = e.ToggleStar(ctx, id)
				} else {
					_, err := e.DeleteItem(ctx, id, false)
					require.NoError(t, err)
				}
			}
		}

		want := sumSizes(e)
		var got int64
		e.Read(func(r Reader) { got = quota.UsedBytes(r) })
		require.Equal(t, want, got, "step %d", step)
		require.Equal(t, want, e.Usage().UsedBytes)
		require.Equal(t, want, m.used, "gauge follows every mutation")
	}
}

// TestNoCycles checks that folders created through the engine always reach
// a root-level folder.
func TestNoCycles(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	e := newEngine(t, Options{})

	ids := []string{drive.RootFolderID}
	for i := 0; i < 200; i++ {
		f, err := e.CreateFolder(ctx, "n", ids[rng.Intn(len(ids))])
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}

	// Round-tripping through FromSnapshot runs the full cycle check
	_, err := hierarchy.FromSnapshot(e.Snapshot())
	require.NoError(t, err)

	e.Read(func(r Reader) {
		for _, id := range ids {
			chain, err := view.Breadcrumbs(r, id)
			require.NoError(t, err)
			assert.Equal(t, drive.RootFolderID, chain[0].ID)
		}
	})
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Options{IDs: drive.UUIDGenerator{}})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f, err := e.CreateFolder(ctx, fmt.Sprintf("w%d-%d", w, i), drive.RootFolderID)
				if !assert.NoError(t, err) {
					return
				}
				_, err = e.IngestFiles(ctx, []drive.FileDescriptor{desc("x", 1)}, f.ID)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	r := e.Usage()
	assert.Equal(t, 400, r.FileCount)
	assert.Equal(t, int64(400), r.UsedBytes)
}
