package view

import (
	"github.com/marmos91/dittodrive/pkg/drive"
)

// Breadcrumbs returns the chain of folders from the root-level ancestor of
// folderID down to folderID itself.
//
// Returns NotFound when folderID does not exist. A parent link that loops or
// dangles (only possible with a corrupted reader) ends the chain there.
func Breadcrumbs(r Reader, folderID string) ([]drive.Folder, error) {
	f, ok := r.Folder(folderID)
	if !ok {
		return nil, drive.NewNotFoundError("folder", folderID)
	}

	chain := []drive.Folder{f}
	seen := map[string]struct{}{f.ID: {}}
	for !f.IsRootLevel() {
		parent, ok := r.Folder(f.Parent())
		if !ok {
			break
		}
		if _, loop := seen[parent.ID]; loop {
			break
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		f = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
