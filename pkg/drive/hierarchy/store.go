package hierarchy

import (
	"github.com/marmos91/dittodrive/pkg/drive"
)

// Store owns the authoritative sets of folders and files of one drive.
//
// The store enforces the structural invariants of the hierarchy:
//   - ids are unique within their type for the lifetime of the store
//     (a removed id is never accepted again)
//   - the parent relation over real folders is a forest
//   - every folder and file parent resolves to an existing real folder
//   - file sizes are never negative
//
// Storage Model:
//
// Entities live in maps keyed by id. Two order slices preserve insertion
// order, which is the default listing order. Two indexes map a folder id to
// the ids of its direct child folders and of the files it holds; they are
// maintained on every write so structural queries and the descendant
// closure walk never scan the whole set.
//
// Write Semantics:
//
// Every writer validates the full request before touching any map
// (validate-then-commit). A failed write returns an InvariantViolation and
// leaves the store exactly as it was. The store never cascades: removing a
// folder that still has surviving children is rejected, the caller must name
// the whole closure.
//
// Thread Safety:
// Store is not safe for concurrent use. The mutation engine serializes all
// access behind its own lock.
type Store struct {
	folders map[string]*drive.Folder
	files   map[string]*drive.File

	// folderOrder and fileOrder hold ids in insertion order
	folderOrder []string
	fileOrder   []string

	// childFolders maps a folder id to its direct child folder ids.
	// Root-level folders are indexed under the empty string.
	childFolders map[string][]string

	// childFiles maps a folder id to the ids of the files it holds
	childFiles map[string][]string

	// usedFolderIDs and usedFileIDs remember every id ever inserted,
	// including removed ones
	usedFolderIDs map[string]struct{}
	usedFileIDs   map[string]struct{}
}

// New creates an empty store with no folders at all.
//
// Most callers want FromSnapshot(drive.NewSeedSnapshot(now)) instead, which
// yields the well-known folders.
func New() *Store {
	return &Store{
		folders:       make(map[string]*drive.Folder),
		files:         make(map[string]*drive.File),
		childFolders:  make(map[string][]string),
		childFiles:    make(map[string][]string),
		usedFolderIDs: make(map[string]struct{}),
		usedFileIDs:   make(map[string]struct{}),
	}
}

// ============================================================================
// Queries
// ============================================================================

// Folder returns a copy of the folder with the given id.
func (s *Store) Folder(id string) (drive.Folder, bool) {
	f, ok := s.folders[id]
	if !ok {
		return drive.Folder{}, false
	}
	return f.Clone(), true
}

// File returns a copy of the file with the given id.
func (s *Store) File(id string) (drive.File, bool) {
	f, ok := s.files[id]
	if !ok {
		return drive.File{}, false
	}
	return *f, true
}

// HasFolder reports whether a folder with the given id exists.
func (s *Store) HasFolder(id string) bool {
	_, ok := s.folders[id]
	return ok
}

// HasFile reports whether a file with the given id exists.
func (s *Store) HasFile(id string) bool {
	_, ok := s.files[id]
	return ok
}

// IsRealFolder reports whether id names an existing folder that can hold
// children, i.e. anything but a pseudo-location.
func (s *Store) IsRealFolder(id string) bool {
	return s.HasFolder(id) && !drive.IsPseudoFolder(id)
}

// FolderCount returns the number of folders, well-known ones included.
func (s *Store) FolderCount() int { return len(s.folders) }

// FileCount returns the number of files.
func (s *Store) FileCount() int { return len(s.files) }

// Folders returns copies of all folders in insertion order.
func (s *Store) Folders() []drive.Folder {
	out := make([]drive.Folder, 0, len(s.folderOrder))
	for _, id := range s.folderOrder {
		out = append(out, s.folders[id].Clone())
	}
	return out
}

// Files returns copies of all files in insertion order.
func (s *Store) Files() []drive.File {
	out := make([]drive.File, 0, len(s.fileOrder))
	for _, id := range s.fileOrder {
		out = append(out, *s.files[id])
	}
	return out
}

// RangeFiles calls fn for every file in insertion order until fn returns
// false.
func (s *Store) RangeFiles(fn func(drive.File) bool) {
	for _, id := range s.fileOrder {
		if !fn(*s.files[id]) {
			return
		}
	}
}

// ChildFolderIDs returns the ids of the direct child folders of parentID in
// insertion order. An empty parentID yields the root-level folders.
func (s *Store) ChildFolderIDs(parentID string) []string {
	ids := s.childFolders[parentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ChildFoldersOf returns the direct child folders of parentID in insertion
// order.
func (s *Store) ChildFoldersOf(parentID string) []drive.Folder {
	ids := s.childFolders[parentID]
	out := make([]drive.Folder, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.folders[id].Clone())
	}
	return out
}

// FilesIn returns the files whose parent is folderID in insertion order.
func (s *Store) FilesIn(folderID string) []drive.File {
	ids := s.childFiles[folderID]
	out := make([]drive.File, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.files[id])
	}
	return out
}

// Snapshot returns a deep copy of the whole store in insertion order.
func (s *Store) Snapshot() *drive.Snapshot {
	return &drive.Snapshot{
		Folders: s.Folders(),
		Files:   s.Files(),
	}
}

// ============================================================================
// Writers
// ============================================================================

// InsertFolder adds a folder.
//
// Fails with an InvariantViolation when the id is empty or was ever used,
// or when the parent is set but is not an existing real folder. Since the
// new id is fresh and the parent already exists, an insert can only ever
// append a leaf and cannot close a cycle.
func (s *Store) InsertFolder(folder drive.Folder) error {
	if err := s.checkNewFolder(&folder); err != nil {
		return err
	}

	f := folder.Clone()
	s.folders[f.ID] = &f
	s.folderOrder = append(s.folderOrder, f.ID)
	s.usedFolderIDs[f.ID] = struct{}{}
	parent := f.Parent()
	s.childFolders[parent] = append(s.childFolders[parent], f.ID)
	return nil
}

func (s *Store) checkNewFolder(f *drive.Folder) error {
	if f.ID == "" {
		return drive.NewInvariantViolation("", "folder id must not be empty")
	}
	if _, used := s.usedFolderIDs[f.ID]; used {
		return drive.NewInvariantViolation(f.ID, "duplicate folder id")
	}
	if f.ParentID != nil {
		if err := s.checkParent(*f.ParentID); err != nil {
			return err
		}
	}
	return nil
}

// InsertFiles adds a batch of files atomically: either every file is
// inserted or, on the first invariant violation, none is.
func (s *Store) InsertFiles(files []drive.File) error {
	// Step 1: validate the whole batch, including ids repeated within it
	batch := make(map[string]struct{}, len(files))
	for i := range files {
		f := &files[i]
		if f.ID == "" {
			return drive.NewInvariantViolation("", "file id must not be empty")
		}
		if _, used := s.usedFileIDs[f.ID]; used {
			return drive.NewInvariantViolation(f.ID, "duplicate file id")
		}
		if _, dup := batch[f.ID]; dup {
			return drive.NewInvariantViolation(f.ID, "duplicate file id in batch")
		}
		batch[f.ID] = struct{}{}

		if f.SizeBytes < 0 {
			return drive.NewInvariantViolation(f.ID, "negative file size %d", f.SizeBytes)
		}
		if err := s.checkParent(f.ParentID); err != nil {
			return err
		}
	}

	// Step 2: commit
	for i := range files {
		f := files[i]
		s.files[f.ID] = &f
		s.fileOrder = append(s.fileOrder, f.ID)
		s.usedFileIDs[f.ID] = struct{}{}
		s.childFiles[f.ParentID] = append(s.childFiles[f.ParentID], f.ID)
	}
	return nil
}

// UpdateFile applies mutate to a copy of the file and stores the result.
//
// mutate may change attributes (name, starred, verified, size, ...) but not
// the id or the parent; there is no re-parenting. Returns NotFound when the
// file does not exist and InvariantViolation when mutate breaks a rule, in
// which case the stored file is unchanged.
func (s *Store) UpdateFile(id string, mutate func(*drive.File)) (drive.File, error) {
	cur, ok := s.files[id]
	if !ok {
		return drive.File{}, drive.NewNotFoundError("file", id)
	}

	next := *cur
	mutate(&next)

	switch {
	case next.ID != cur.ID:
		return drive.File{}, drive.NewInvariantViolation(id, "file id is immutable")
	case next.ParentID != cur.ParentID:
		return drive.File{}, drive.NewInvariantViolation(id, "file parent is immutable")
	case next.SizeBytes < 0:
		return drive.File{}, drive.NewInvariantViolation(id, "negative file size %d", next.SizeBytes)
	}

	*cur = next
	return next, nil
}

// Remove deletes the named folders and files in one step.
//
// Every id must exist. The removal must be closed under the parent
// relation: a surviving folder or file whose parent is being removed is an
// InvariantViolation. On any failure nothing is removed.
func (s *Store) Remove(folderIDs, fileIDs []string) error {
	// Step 1: resolve and validate
	goneFolders := make(map[string]struct{}, len(folderIDs))
	for _, id := range folderIDs {
		if _, ok := s.folders[id]; !ok {
			return drive.NewInvariantViolation(id, "cannot remove unknown folder")
		}
		goneFolders[id] = struct{}{}
	}
	goneFiles := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		if _, ok := s.files[id]; !ok {
			return drive.NewInvariantViolation(id, "cannot remove unknown file")
		}
		goneFiles[id] = struct{}{}
	}

	for id := range goneFolders {
		for _, child := range s.childFolders[id] {
			if _, ok := goneFolders[child]; !ok {
				return drive.NewInvariantViolation(child, "folder would be left without parent %s", id)
			}
		}
		for _, child := range s.childFiles[id] {
			if _, ok := goneFiles[child]; !ok {
				return drive.NewInvariantViolation(child, "file would be left without parent %s", id)
			}
		}
	}

	if len(goneFolders) == 0 && len(goneFiles) == 0 {
		return nil
	}

	// Step 2: commit, compacting the indexes of surviving parents once each
	fileParents := make(map[string]struct{})
	for id := range goneFiles {
		fileParents[s.files[id].ParentID] = struct{}{}
		delete(s.files, id)
	}
	folderParents := make(map[string]struct{})
	for id := range goneFolders {
		folderParents[s.folders[id].Parent()] = struct{}{}
		delete(s.folders, id)
		delete(s.childFolders, id)
		delete(s.childFiles, id)
	}

	for parent := range fileParents {
		if _, gone := goneFolders[parent]; !gone {
			s.childFiles[parent] = without(s.childFiles[parent], goneFiles)
		}
	}
	for parent := range folderParents {
		if _, gone := goneFolders[parent]; !gone {
			s.childFolders[parent] = without(s.childFolders[parent], goneFolders)
		}
	}

	if len(goneFiles) > 0 {
		s.fileOrder = without(s.fileOrder, goneFiles)
	}
	if len(goneFolders) > 0 {
		s.folderOrder = without(s.folderOrder, goneFolders)
	}
	return nil
}

// checkParent verifies that id can hold children.
func (s *Store) checkParent(id string) error {
	if _, ok := s.folders[id]; !ok {
		return drive.NewInvariantViolation(id, "parent folder does not exist")
	}
	if drive.IsPseudoFolder(id) {
		return drive.NewInvariantViolation(id, "pseudo-location cannot hold children")
	}
	return nil
}

// without filters ids in place, dropping every member of gone.
func without(ids []string, gone map[string]struct{}) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, drop := gone[id]; !drop {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
