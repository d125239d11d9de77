package hierarchy

import (
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s, err := FromSnapshot(drive.NewSeedSnapshot(epoch))
	require.NoError(t, err)
	return s
}

func folder(id, parent string) drive.Folder {
	f := drive.Folder{ID: id, Name: id, CreatedAt: epoch}
	if parent != "" {
		f.ParentID = drive.StringPtr(parent)
	}
	return f
}

func file(id, parent string, size int64) drive.File {
	return drive.File{ID: id, Name: id + ".bin", ParentID: parent, SizeBytes: size, LastModified: epoch}
}

func TestStore_Seeded(t *testing.T) {
	s := seeded(t)

	assert.Equal(t, 5, s.FolderCount())
	assert.Equal(t, 0, s.FileCount())
	assert.True(t, s.IsRealFolder(drive.RootFolderID))
	assert.False(t, s.IsRealFolder(drive.StarredFolderID))
	assert.True(t, s.HasFolder(drive.StarredFolderID))
	assert.Equal(t,
		[]string{"root", "shared", "recent", "starred", "trash"},
		s.ChildFolderIDs(""),
	)
}

func TestStore_InsertFolder(t *testing.T) {
	t.Run("AppendsChild", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.InsertFolder(folder("a", drive.RootFolderID)))
		require.NoError(t, s.InsertFolder(folder("b", drive.RootFolderID)))

		assert.Equal(t, []string{"a", "b"}, s.ChildFolderIDs(drive.RootFolderID))
		got, ok := s.Folder("a")
		require.True(t, ok)
		assert.Equal(t, drive.RootFolderID, got.Parent())
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		tests := []struct {
			name   string
			folder drive.Folder
		}{
			{"EmptyID", folder("", drive.RootFolderID)},
			{"DuplicateID", folder("root", "")},
			{"DanglingParent", folder("x", "missing")},
			{"PseudoParent", folder("x", drive.TrashFolderID)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := seeded(t)
				before := s.Snapshot()

				err := s.InsertFolder(tt.folder)
				require.Error(t, err)
				assert.True(t, drive.IsInvariantViolation(err))
				assert.Equal(t, before, s.Snapshot())
			})
		}
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.InsertFolder(folder("a", drive.RootFolderID)))

		got, _ := s.Folder("a")
		*got.ParentID = "tampered"
		again, _ := s.Folder("a")
		assert.Equal(t, drive.RootFolderID, again.Parent())
	})
}

func TestStore_InsertFiles(t *testing.T) {
	t.Run("BatchIsAtomic", func(t *testing.T) {
		s := seeded(t)
		err := s.InsertFiles([]drive.File{
			file("f1", drive.RootFolderID, 10),
			file("f2", "missing", 10),
		})
		require.Error(t, err)
		assert.True(t, drive.IsInvariantViolation(err))
		assert.Equal(t, 0, s.FileCount())
	})

	t.Run("RejectsDuplicateInBatch", func(t *testing.T) {
		s := seeded(t)
		err := s.InsertFiles([]drive.File{
			file("f1", drive.RootFolderID, 1),
			file("f1", drive.RootFolderID, 1),
		})
		assert.True(t, drive.IsInvariantViolation(err))
		assert.Equal(t, 0, s.FileCount())
	})

	t.Run("RejectsNegativeSize", func(t *testing.T) {
		s := seeded(t)
		err := s.InsertFiles([]drive.File{file("f1", drive.RootFolderID, -1)})
		assert.True(t, drive.IsInvariantViolation(err))
	})

	t.Run("RejectsPseudoParent", func(t *testing.T) {
		s := seeded(t)
		err := s.InsertFiles([]drive.File{file("f1", drive.StarredFolderID, 1)})
		assert.True(t, drive.IsInvariantViolation(err))
	})

	t.Run("IndexesByParent", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.InsertFolder(folder("a", drive.RootFolderID)))
		require.NoError(t, s.InsertFiles([]drive.File{
			file("f1", drive.RootFolderID, 1),
			file("f2", "a", 2),
			file("f3", drive.RootFolderID, 3),
		}))

		var ids []string
		for _, f := range s.FilesIn(drive.RootFolderID) {
			ids = append(ids, f.ID)
		}
		assert.Equal(t, []string{"f1", "f3"}, ids)
		assert.Len(t, s.FilesIn("a"), 1)
		assert.Empty(t, s.FilesIn("missing"))
	})
}

func TestStore_UpdateFile(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.InsertFiles([]drive.File{file("f1", drive.RootFolderID, 5)}))

	updated, err := s.UpdateFile("f1", func(f *drive.File) { f.Starred = true })
	require.NoError(t, err)
	assert.True(t, updated.Starred)

	got, _ := s.File("f1")
	assert.True(t, got.Starred)

	_, err = s.UpdateFile("nope", func(*drive.File) {})
	assert.True(t, drive.IsNotFound(err))

	for name, mutate := range map[string]func(*drive.File){
		"ChangeID":     func(f *drive.File) { f.ID = "other" },
		"ChangeParent": func(f *drive.File) { f.ParentID = drive.TrashFolderID },
		"NegativeSize": func(f *drive.File) { f.SizeBytes = -5 },
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateFile("f1", func(f *drive.File) {
				f.Name = "renamed"
				mutate(f)
			})
			assert.True(t, drive.IsInvariantViolation(err))

			got, _ := s.File("f1")
			assert.Equal(t, "f1.bin", got.Name)
		})
	}
}

func TestStore_Remove(t *testing.T) {
	build := func(t *testing.T) *Store {
		s := seeded(t)
		require.NoError(t, s.InsertFolder(folder("a", drive.RootFolderID)))
		require.NoError(t, s.InsertFolder(folder("b", "a")))
		require.NoError(t, s.InsertFolder(folder("c", drive.RootFolderID)))
		require.NoError(t, s.InsertFiles([]drive.File{
			file("fa", "a", 1),
			file("fb", "b", 2),
			file("fr", drive.RootFolderID, 4),
		}))
		return s
	}

	t.Run("ClosedRemoval", func(t *testing.T) {
		s := build(t)
		require.NoError(t, s.Remove([]string{"a", "b"}, []string{"fa", "fb"}))

		assert.False(t, s.HasFolder("a"))
		assert.False(t, s.HasFolder("b"))
		assert.Equal(t, []string{"c"}, s.ChildFolderIDs(drive.RootFolderID))
		assert.Equal(t, 1, s.FileCount())
		assert.Empty(t, s.ChildFolderIDs("a"))
	})

	t.Run("RejectsOrphans", func(t *testing.T) {
		s := build(t)
		before := s.Snapshot()

		err := s.Remove([]string{"a"}, []string{"fa"})
		assert.True(t, drive.IsInvariantViolation(err), "b would be orphaned")

		err = s.Remove([]string{"a", "b"}, []string{"fa"})
		assert.True(t, drive.IsInvariantViolation(err), "fb would be orphaned")

		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("RejectsUnknown", func(t *testing.T) {
		s := build(t)
		assert.True(t, drive.IsInvariantViolation(s.Remove(nil, []string{"ghost"})))
		assert.True(t, drive.IsInvariantViolation(s.Remove([]string{"ghost"}, nil)))
	})

	t.Run("IDsAreNeverReused", func(t *testing.T) {
		s := build(t)
		require.NoError(t, s.Remove([]string{"c"}, []string{"fr"}))

		assert.True(t, drive.IsInvariantViolation(s.InsertFolder(folder("c", drive.RootFolderID))))
		assert.True(t, drive.IsInvariantViolation(s.InsertFiles([]drive.File{file("fr", drive.RootFolderID, 1)})))
	})

	t.Run("KeepsInsertionOrder", func(t *testing.T) {
		s := build(t)
		require.NoError(t, s.Remove(nil, []string{"fa"}))

		var ids []string
		s.RangeFiles(func(f drive.File) bool {
			ids = append(ids, f.ID)
			return true
		})
		assert.Equal(t, []string{"fb", "fr"}, ids)
	})
}

func TestFromSnapshot(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		s, err := FromSnapshot(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, s.FolderCount())
	})

	t.Run("ParentAfterChild", func(t *testing.T) {
		snap := drive.NewSeedSnapshot(epoch)
		snap.Folders = append(snap.Folders, folder("child", "parent"), folder("parent", drive.RootFolderID))
		snap.Files = append(snap.Files, file("f", "child", 3))

		s, err := FromSnapshot(snap)
		require.NoError(t, err)
		assert.Equal(t, []string{"child"}, s.ChildFolderIDs("parent"))
		assert.Equal(t, snap, s.Snapshot())
	})

	t.Run("Cycle", func(t *testing.T) {
		snap := drive.NewSeedSnapshot(epoch)
		snap.Folders = append(snap.Folders, folder("x", "y"), folder("y", "z"), folder("z", "x"))

		_, err := FromSnapshot(snap)
		require.Error(t, err)
		assert.True(t, drive.IsInvariantViolation(err))
	})

	t.Run("SelfParent", func(t *testing.T) {
		snap := &drive.Snapshot{Folders: []drive.Folder{folder("x", "x")}}
		_, err := FromSnapshot(snap)
		assert.True(t, drive.IsInvariantViolation(err))
	})

	t.Run("DanglingFile", func(t *testing.T) {
		snap := drive.NewSeedSnapshot(epoch)
		snap.Files = append(snap.Files, file("f", "gone", 1))
		_, err := FromSnapshot(snap)
		assert.True(t, drive.IsInvariantViolation(err))
	})

	t.Run("DuplicateFolder", func(t *testing.T) {
		snap := drive.NewSeedSnapshot(epoch)
		snap.Folders = append(snap.Folders, folder("root", ""))
		_, err := FromSnapshot(snap)
		assert.True(t, drive.IsInvariantViolation(err))
	})
}

func TestStore_EnsureFolders(t *testing.T) {
	s, err := FromSnapshot(&drive.Snapshot{Folders: []drive.Folder{folder("root", "")}})
	require.NoError(t, err)

	added, err := s.EnsureFolders(drive.DefaultFolders(epoch))
	require.NoError(t, err)
	assert.Equal(t, 4, added)
	assert.Equal(t, 5, s.FolderCount())

	added, err = s.EnsureFolders(drive.DefaultFolders(epoch))
	require.NoError(t, err)
	assert.Zero(t, added)
}
