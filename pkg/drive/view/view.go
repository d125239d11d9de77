// Package view turns a location and filters into a materialized listing.
//
// The projector only reads the hierarchy. Real folders list their direct
// children; pseudo-locations compute their contents from file attributes.
package view

import (
	"sort"
	"strings"

	"github.com/marmos91/dittodrive/pkg/drive"
)

// RecentLimit is the number of files the recent location shows.
const RecentLimit = 20

// Reader is the read-only surface of the hierarchy the projector needs.
// hierarchy.Store satisfies it.
type Reader interface {
	Folder(id string) (drive.Folder, bool)
	ChildFoldersOf(parentID string) []drive.Folder
	FilesIn(folderID string) []drive.File
	RangeFiles(fn func(drive.File) bool)
}

// Listing is the result of a projection. Both slices are non-nil so an
// empty listing serializes as empty arrays.
type Listing struct {
	Folders []drive.Folder `json:"folders"`
	Files   []drive.File   `json:"files"`
}

// Query bundles the inputs of a projection.
type Query struct {
	Location drive.Location

	// SearchTerm filters both lists by case-insensitive substring on name.
	// Empty means no filtering.
	SearchTerm string

	// Sort reorders the listing after filtering. SortNone keeps the
	// location's own order.
	Sort Sort
}

// Project computes the listing of loc, filtered by searchTerm.
func Project(r Reader, loc drive.Location, searchTerm string) Listing {
	return ProjectQuery(r, Query{Location: loc, SearchTerm: searchTerm})
}

// ProjectQuery computes the listing for q.
//
// Evaluation order:
//  1. location dispatch (which entities belong to the location)
//  2. search filter (on both lists)
//  3. optional sort
//
// Because the search filter runs after the location filter and preserves
// order, filtering a projection by a term gives the same files as projecting
// with that term.
func ProjectQuery(r Reader, q Query) Listing {
	l := byLocation(r, q.Location)

	if q.SearchTerm != "" {
		l.Folders = filterFolders(l.Folders, q.SearchTerm)
		l.Files = filterFiles(l.Files, q.SearchTerm)
	}

	q.Sort.apply(&l)
	return l
}

func byLocation(r Reader, loc drive.Location) Listing {
	l := Listing{Folders: []drive.Folder{}, Files: []drive.File{}}

	switch loc.Kind {
	case drive.LocationFolder:
		for _, f := range r.ChildFoldersOf(loc.FolderID) {
			if !drive.IsPseudoFolder(f.ID) {
				l.Folders = append(l.Folders, f)
			}
		}
		l.Files = append(l.Files, r.FilesIn(loc.FolderID)...)

	case drive.LocationStarred:
		l.Files = collect(r, func(f drive.File) bool { return f.Starred })

	case drive.LocationRecent:
		l.Files = recent(r, RecentLimit)

	case drive.LocationVerified:
		if loc.FolderID != "" {
			for _, f := range r.FilesIn(loc.FolderID) {
				if f.Verified {
					l.Files = append(l.Files, f)
				}
			}
		} else {
			l.Files = collect(r, func(f drive.File) bool { return f.Verified })
		}

	case drive.LocationTrash, drive.LocationShared:
		// Placeholders: no soft delete and no sharing model
	}

	return l
}

func collect(r Reader, keep func(drive.File) bool) []drive.File {
	out := []drive.File{}
	r.RangeFiles(func(f drive.File) bool {
		if keep(f) {
			out = append(out, f)
		}
		return true
	})
	return out
}

// recent returns the limit most recently modified files, newest first.
// Files with equal timestamps keep insertion order.
func recent(r Reader, limit int) []drive.File {
	all := collect(r, func(drive.File) bool { return true })
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastModified.After(all[j].LastModified)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Matches reports whether name contains term, ignoring case.
func Matches(name, term string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(term))
}

func filterFolders(folders []drive.Folder, term string) []drive.Folder {
	out := folders[:0]
	for _, f := range folders {
		if Matches(f.Name, term) {
			out = append(out, f)
		}
	}
	return out
}

func filterFiles(files []drive.File, term string) []drive.File {
	out := files[:0]
	for _, f := range files {
		if Matches(f.Name, term) {
			out = append(out, f)
		}
	}
	return out
}
