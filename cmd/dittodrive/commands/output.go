package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/pterm/pterm"
)

// printer renders command results to a writer, so tests can capture them.
type printer struct {
	out io.Writer
}

func newPrinter(w io.Writer) printer {
	return printer{out: w}
}

func (p printer) success(format string, a ...any) {
	_, _ = fmt.Fprintln(p.out, pterm.Success.Sprintf(format, a...))
}

func (p printer) info(format string, a ...any) {
	_, _ = fmt.Fprintln(p.out, pterm.Info.Sprintf(format, a...))
}

func (p printer) warn(format string, a ...any) {
	_, _ = fmt.Fprintln(p.out, pterm.Warning.Sprintf(format, a...))
}

func (p printer) section(title string) {
	_, _ = fmt.Fprint(p.out, pterm.DefaultSection.Sprintln(title))
}

func (p printer) table(data pterm.TableData) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, s)
	return err
}

// listing prints folders first, then files, as one table.
func (p printer) listing(l view.Listing, now time.Time) error {
	if len(l.Folders) == 0 && len(l.Files) == 0 {
		p.info("Nothing here")
		return nil
	}

	data := pterm.TableData{{"Type", "ID", "Name", "Size", "Modified", "Flags"}}
	for _, f := range l.Folders {
		data = append(data, []string{"folder", f.ID, f.Name, "-", humanize.RelTime(f.CreatedAt, now, "ago", "from now"), ""})
	}
	for _, f := range l.Files {
		data = append(data, []string{
			"file", f.ID, f.Name,
			humanBytes(f.SizeBytes),
			humanize.RelTime(f.LastModified, now, "ago", "from now"),
			flags(f),
		})
	}
	return p.table(data)
}

// ingest prints the files an ingest created and the descriptors it
// rejected.
func (p printer) ingest(res engine.IngestResult) {
	for _, f := range res.Files {
		p.success("%s (%s, %s) id=%s", f.Name, humanBytes(f.SizeBytes), f.MimeType, f.ID)
	}
	for _, r := range res.Rejected {
		p.warn("Rejected #%d %q: %s", r.Index, r.Name, r.Reason)
	}
}

// breadcrumbs renders a folder chain as "Root / Photos / Summer".
func breadcrumbs(chain []drive.Folder) string {
	names := make([]string, len(chain))
	for i, f := range chain {
		names[i] = f.Name
	}
	return strings.Join(names, " / ")
}

// humanBytes formats n in base 1024 units ("1.5 MiB").
func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func flags(f drive.File) string {
	var out []string
	if f.Starred {
		out = append(out, "starred")
	}
	if f.Verified {
		out = append(out, "verified")
	}
	return strings.Join(out, ",")
}
