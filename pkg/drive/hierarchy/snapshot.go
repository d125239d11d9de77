package hierarchy

import (
	"github.com/marmos91/dittodrive/pkg/drive"
)

// FromSnapshot rebuilds a store from a persisted snapshot.
//
// Snapshots come from an outside collaborator, so they are checked against
// every invariant before the store is returned: empty or duplicate ids,
// parents that are missing or pseudo-locations, parent cycles, negative
// sizes. Unlike InsertFolder, folders may appear before their parent in the
// snapshot; order only determines listing order.
//
// The well-known folders are not required. Callers that need them use
// EnsureFolders after loading.
func FromSnapshot(snap *drive.Snapshot) (*Store, error) {
	s := New()
	if snap == nil {
		return s, nil
	}

	// Step 1: register folders without checking parents yet
	for i := range snap.Folders {
		f := snap.Folders[i].Clone()
		if f.ID == "" {
			return nil, drive.NewInvariantViolation("", "folder id must not be empty")
		}
		if _, dup := s.folders[f.ID]; dup {
			return nil, drive.NewInvariantViolation(f.ID, "duplicate folder id")
		}
		s.folders[f.ID] = &f
		s.folderOrder = append(s.folderOrder, f.ID)
		s.usedFolderIDs[f.ID] = struct{}{}
	}

	// Step 2: resolve parents and build the child index in snapshot order
	for _, id := range s.folderOrder {
		f := s.folders[id]
		if f.ParentID != nil {
			if err := s.checkParent(*f.ParentID); err != nil {
				return nil, err
			}
		}
		parent := f.Parent()
		s.childFolders[parent] = append(s.childFolders[parent], id)
	}

	// Step 3: reject cycles
	if err := s.checkAcyclic(); err != nil {
		return nil, err
	}

	// Step 4: files go through the regular batch insert
	files := make([]drive.File, len(snap.Files))
	copy(files, snap.Files)
	if err := s.InsertFiles(files); err != nil {
		return nil, err
	}

	return s, nil
}

// checkAcyclic walks up from every folder, failing if a walk revisits a
// folder of its own path. Folders proven to reach a root are memoized, so
// the whole check is linear.
func (s *Store) checkAcyclic() error {
	const (
		unvisited = iota
		onPath
		done
	)

	state := make(map[string]int, len(s.folders))
	for _, start := range s.folderOrder {
		var path []string
		id := start
		for id != "" && state[id] == unvisited {
			state[id] = onPath
			path = append(path, id)
			id = s.folders[id].Parent()
		}
		if id != "" && state[id] == onPath {
			return drive.NewInvariantViolation(id, "folder is its own ancestor")
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// EnsureFolders inserts every folder of defaults whose id is not present
// yet and returns how many were added. It is used to complete snapshots
// written before a well-known folder existed.
func (s *Store) EnsureFolders(defaults []drive.Folder) (int, error) {
	added := 0
	for _, f := range defaults {
		if s.HasFolder(f.ID) {
			continue
		}
		if err := s.InsertFolder(f); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
