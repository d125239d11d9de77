package drive

import "fmt"

// LocationKind discriminates the variants of Location.
type LocationKind int

const (
	// LocationFolder is a real folder; its contents follow parent links
	LocationFolder LocationKind = iota

	// LocationStarred lists starred files from the whole hierarchy
	LocationStarred

	// LocationRecent lists the most recently modified files
	LocationRecent

	// LocationTrash is a placeholder; it always lists nothing
	LocationTrash

	// LocationShared is a placeholder; there is no sharing model
	LocationShared

	// LocationVerified lists verified files, optionally within one folder
	LocationVerified
)

// String returns the navigation token of the kind.
func (k LocationKind) String() string {
	switch k {
	case LocationFolder:
		return "folder"
	case LocationStarred:
		return StarredFolderID
	case LocationRecent:
		return RecentFolderID
	case LocationTrash:
		return TrashFolderID
	case LocationShared:
		return SharedFolderID
	case LocationVerified:
		return VerifiedLocationID
	default:
		return "unknown"
	}
}

// Location is the "current location" a listing is computed for.
//
// Pseudo-locations are variants of their own rather than folders holding
// children, so the parent-child relation only ever contains real edges.
type Location struct {
	Kind LocationKind

	// FolderID is the folder for LocationFolder, and the optional scope
	// for LocationVerified. It is ignored for every other kind.
	FolderID string
}

// FolderLocation returns the location of a real folder.
func FolderLocation(id string) Location {
	return Location{Kind: LocationFolder, FolderID: id}
}

// Predefined pseudo-locations.
var (
	Starred  = Location{Kind: LocationStarred}
	Recent   = Location{Kind: LocationRecent}
	Trash    = Location{Kind: LocationTrash}
	Shared   = Location{Kind: LocationShared}
	Verified = Location{Kind: LocationVerified}
)

// VerifiedIn returns the verified location scoped to one folder.
func VerifiedIn(folderID string) Location {
	return Location{Kind: LocationVerified, FolderID: folderID}
}

// ParseLocation maps a navigation token to a Location.
//
// The pseudo-location names map to their variants; any other token is taken
// as a folder id. An empty token means the root folder.
func ParseLocation(token string) Location {
	switch token {
	case "":
		return FolderLocation(RootFolderID)
	case StarredFolderID:
		return Starred
	case RecentFolderID:
		return Recent
	case TrashFolderID:
		return Trash
	case SharedFolderID:
		return Shared
	case VerifiedLocationID:
		return Verified
	default:
		return FolderLocation(token)
	}
}

// Token returns the navigation token for the location, the inverse of
// ParseLocation for every unscoped location.
func (l Location) Token() string {
	if l.Kind == LocationFolder {
		return l.FolderID
	}
	return l.Kind.String()
}

// String implements fmt.Stringer.
func (l Location) String() string {
	if l.Kind == LocationVerified && l.FolderID != "" {
		return fmt.Sprintf("%s(%s)", VerifiedLocationID, l.FolderID)
	}
	return l.Token()
}
