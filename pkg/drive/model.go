package drive

import (
	"time"
)

// Well-known folder identifiers.
//
// RootFolderID is the only real container among them. The others are
// pseudo-locations: they are stored as folders so navigation can show them,
// but no file or folder is ever parented to them.
const (
	RootFolderID    = "root"
	SharedFolderID  = "shared"
	RecentFolderID  = "recent"
	StarredFolderID = "starred"
	TrashFolderID   = "trash"

	// VerifiedLocationID is navigable but has no folder entry.
	VerifiedLocationID = "verified"
)

// pseudoFolderIDs are the stored folders that never hold children.
var pseudoFolderIDs = map[string]struct{}{
	SharedFolderID:  {},
	RecentFolderID:  {},
	StarredFolderID: {},
	TrashFolderID:   {},
}

// IsPseudoFolder reports whether id names a pseudo-location folder.
func IsPseudoFolder(id string) bool {
	_, ok := pseudoFolderIDs[id]
	return ok
}

// IsWellKnownFolder reports whether id is one of the seeded folders,
// which ordinary user actions may not delete.
func IsWellKnownFolder(id string) bool {
	return id == RootFolderID || IsPseudoFolder(id)
}

// Folder is a container in the hierarchy.
type Folder struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// ParentID is nil for root-level folders.
	ParentID  *string   `json:"parentId" yaml:"parentId"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// IsRootLevel reports whether the folder has no parent.
func (f *Folder) IsRootLevel() bool {
	return f.ParentID == nil
}

// Parent returns the parent id, or "" for root-level folders.
func (f *Folder) Parent() string {
	if f.ParentID == nil {
		return ""
	}
	return *f.ParentID
}

// Clone returns a deep copy of the folder.
func (f Folder) Clone() Folder {
	if f.ParentID != nil {
		parent := *f.ParentID
		f.ParentID = &parent
	}
	return f
}

// File is a leaf entry. Content bytes live outside the drive; ContentRef is
// an opaque handle supplied by the content collaborator.
type File struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	MimeType     string    `json:"mimeType" yaml:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes" yaml:"sizeBytes"`
	LastModified time.Time `json:"lastModified" yaml:"lastModified"`
	ParentID     string    `json:"parentId" yaml:"parentId"`
	Starred      bool      `json:"starred" yaml:"starred"`
	ContentRef   string    `json:"contentRef" yaml:"contentRef"`
	Verified     bool      `json:"verified" yaml:"verified"`
}

// FileDescriptor describes a file to ingest. It carries everything the
// caller knows about the upload; ids and timestamps are assigned on ingest.
type FileDescriptor struct {
	Name       string `json:"name" yaml:"name"`
	MimeType   string `json:"mimeType" yaml:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes" yaml:"sizeBytes"`
	ContentRef string `json:"contentRef" yaml:"contentRef"`
}

// Snapshot is the complete persisted state of a drive.
//
// Slices keep insertion order, which is the default listing order.
type Snapshot struct {
	Folders []Folder `json:"folders" yaml:"folders"`
	Files   []File   `json:"files" yaml:"files"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := &Snapshot{
		Folders: make([]Folder, len(s.Folders)),
		Files:   make([]File, len(s.Files)),
	}
	for i, f := range s.Folders {
		out.Folders[i] = f.Clone()
	}
	copy(out.Files, s.Files)
	return out
}

// DefaultFolders returns the folders seeded into an empty drive.
func DefaultFolders(now time.Time) []Folder {
	return []Folder{
		{ID: RootFolderID, Name: "My Drive", CreatedAt: now},
		{ID: SharedFolderID, Name: "Shared with me", CreatedAt: now},
		{ID: RecentFolderID, Name: "Recent", CreatedAt: now},
		{ID: StarredFolderID, Name: "Starred", CreatedAt: now},
		{ID: TrashFolderID, Name: "Trash", CreatedAt: now},
	}
}

// NewSeedSnapshot returns the snapshot of a freshly created drive.
func NewSeedSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Folders: DefaultFolders(now),
		Files:   []File{},
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
