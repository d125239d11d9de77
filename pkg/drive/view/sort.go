package view

import (
	"fmt"
	"sort"
	"strings"
)

// Sort selects the order of a listing.
type Sort int

const (
	// SortNone keeps the location's order (insertion order, or newest
	// first for the recent location)
	SortNone Sort = iota

	// SortByName orders folders and files by name, case-insensitively
	SortByName

	// SortByLastModified puts the newest files (and folders by creation
	// time) first
	SortByLastModified

	// SortBySize puts the largest files first. Folders have no size and
	// keep their order.
	SortBySize
)

// ParseSort maps the names accepted by the API and CLI to a Sort.
func ParseSort(s string) (Sort, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return SortNone, nil
	case "name":
		return SortByName, nil
	case "modified", "lastmodified":
		return SortByLastModified, nil
	case "size":
		return SortBySize, nil
	default:
		return SortNone, fmt.Errorf("unknown sort %q (valid: none, name, modified, size)", s)
	}
}

// String implements fmt.Stringer.
func (s Sort) String() string {
	switch s {
	case SortByName:
		return "name"
	case SortByLastModified:
		return "modified"
	case SortBySize:
		return "size"
	default:
		return "none"
	}
}

func (s Sort) apply(l *Listing) {
	switch s {
	case SortByName:
		sort.SliceStable(l.Folders, func(i, j int) bool {
			return strings.ToLower(l.Folders[i].Name) < strings.ToLower(l.Folders[j].Name)
		})
		sort.SliceStable(l.Files, func(i, j int) bool {
			return strings.ToLower(l.Files[i].Name) < strings.ToLower(l.Files[j].Name)
		})
	case SortByLastModified:
		sort.SliceStable(l.Folders, func(i, j int) bool {
			return l.Folders[i].CreatedAt.After(l.Folders[j].CreatedAt)
		})
		sort.SliceStable(l.Files, func(i, j int) bool {
			return l.Files[i].LastModified.After(l.Files[j].LastModified)
		})
	case SortBySize:
		sort.SliceStable(l.Files, func(i, j int) bool {
			return l.Files[i].SizeBytes > l.Files[j].SizeBytes
		})
	}
}
