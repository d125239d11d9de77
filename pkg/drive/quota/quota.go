// Package quota derives storage usage from the file set of a drive.
//
// Nothing here keeps a running counter: every figure is a fold over the
// files currently in the store, so usage can never drift from the sum of
// file sizes.
package quota

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittodrive/pkg/drive"
)

// DefaultTotalBytes is the storage budget of a drive: 15 GiB.
const DefaultTotalBytes int64 = 15 * 1024 * 1024 * 1024

// FileRanger is the read-only view of the file set the tracker needs.
// hierarchy.Store satisfies it.
type FileRanger interface {
	RangeFiles(fn func(drive.File) bool)
}

// UsedBytes sums the sizes of all files.
func UsedBytes(files FileRanger) int64 {
	var used int64
	files.RangeFiles(func(f drive.File) bool {
		used = AddSizes(used, f.SizeBytes)
		return true
	})
	return used
}

// AddSizes adds two non-negative byte counts, saturating at math.MaxInt64
// instead of wrapping.
func AddSizes(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// UsedFraction returns used/total clamped to [0, 1]. A non-positive total
// yields 0.
func UsedFraction(files FileRanger, totalBytes int64) float64 {
	return fraction(UsedBytes(files), totalBytes)
}

func fraction(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(used) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Report is a point-in-time usage summary.
type Report struct {
	UsedBytes  int64   `json:"usedBytes"`
	TotalBytes int64   `json:"totalBytes"`
	FreeBytes  int64   `json:"freeBytes"`
	Fraction   float64 `json:"fraction"`
	FileCount  int     `json:"fileCount"`
}

// Compute folds the file set once and fills a Report. FreeBytes is never
// negative, even when usage exceeds the budget.
func Compute(files FileRanger, totalBytes int64) Report {
	r := Report{TotalBytes: totalBytes}
	files.RangeFiles(func(f drive.File) bool {
		r.UsedBytes = AddSizes(r.UsedBytes, f.SizeBytes)
		r.FileCount++
		return true
	})

	r.Fraction = fraction(r.UsedBytes, totalBytes)
	if free := totalBytes - r.UsedBytes; free > 0 {
		r.FreeBytes = free
	}
	return r
}

// Exceeds reports whether adding extra bytes would go over the budget.
// A non-positive total means unlimited.
func Exceeds(files FileRanger, totalBytes, extra int64) bool {
	if totalBytes <= 0 {
		return false
	}
	return extra > totalBytes-UsedBytes(files)
}

// Summary renders a report the way the sidebar shows it, for example
// "1.5 GiB of 15 GiB used". Sizes use binary (1024-based) units.
func Summary(r Report) string {
	return fmt.Sprintf("%s of %s used", humanize.IBytes(uint64(max(r.UsedBytes, 0))), humanize.IBytes(uint64(max(r.TotalBytes, 0))))
}
