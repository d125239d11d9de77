package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/spf13/cobra"
)

// MkdirCommand creates a folder.
func MkdirCommand() *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				f, err := d.CreateFolder(ctx, args[0], parentID)
				if err != nil {
					return err
				}
				p.success("Created folder %q id=%s", f.Name, f.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&parentID, "parent", "p", drive.RootFolderID, "Parent folder id (empty for a root-level folder)")
	return cmd
}

// UploadCommand stores local files in the drive.
func UploadCommand() *cobra.Command {
	var (
		parentID string
		mimeType string
	)

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload local files into a folder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]facade.UploadSource, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()

				info, err := f.Stat()
				if err != nil {
					return err
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", path)
				}

				sources = append(sources, facade.UploadSource{
					Name:     filepath.Base(path),
					MimeType: mimeType,
					Body:     f,
				})
			}

			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				res, err := d.Upload(ctx, parentID, sources)
				if err != nil {
					return err
				}
				p.ingest(res)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&parentID, "parent", "p", drive.RootFolderID, "Destination folder id")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type of every file (default: detected from content)")
	return cmd
}

// ListCommand prints the listing of a location.
func ListCommand() *cobra.Command {
	var (
		search   string
		sortName string
	)

	cmd := &cobra.Command{
		Use:   "ls [location]",
		Short: "List a folder or one of starred, recent, trash, shared, verified",
		Long: `List a location. The location is a folder id or one of the
pseudo-locations starred, recent, trash, shared and verified. It defaults to
the root folder.`,
		Aliases: []string{"list"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := view.ParseSort(sortName)
			if err != nil {
				return err
			}
			token := ""
			if len(args) == 1 {
				token = args[0]
			}
			loc := drive.ParseLocation(token)

			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				if loc.Kind == drive.LocationFolder {
					chain, err := d.Breadcrumbs(loc.FolderID)
					if err != nil {
						return err
					}
					p.section(breadcrumbs(chain))
				} else {
					p.section(loc.String())
				}

				l := d.List(view.Query{Location: loc, SearchTerm: search, Sort: sort})
				return p.listing(l, time.Now())
			})
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show names containing this text (case-insensitive)")
	cmd.Flags().StringVar(&sortName, "sort", "", "Sort by name, modified or size")
	return cmd
}

// RemoveCommand deletes a file, or a folder with everything beneath it.
func RemoveCommand() *cobra.Command {
	var folder bool

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete a file, or a folder and its contents with --folder",
		Aliases: []string{"delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				res, err := d.DeleteItem(ctx, args[0], folder)
				if err != nil {
					return err
				}
				if len(res.Folders) == 0 && len(res.Files) == 0 {
					p.warn("Nothing to delete: no %s with id %s", kindName(folder), args[0])
					return nil
				}
				p.success("Deleted %d folder(s) and %d file(s), freed %s",
					len(res.Folders), len(res.Files), humanBytes(res.FreedBytes))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&folder, "folder", "r", false, "The id is a folder")
	return cmd
}

// StarCommand toggles the star of a file.
func StarCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "star <file-id>",
		Short: "Star or unstar a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				f, err := d.ToggleStar(ctx, args[0])
				if err != nil {
					return err
				}
				if f.Starred {
					p.success("Starred %q", f.Name)
				} else {
					p.success("Unstarred %q", f.Name)
				}
				return nil
			})
		},
	}
}

// VerifyCommand marks a file verified, or unverified with --off.
func VerifyCommand() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "verify <file-id>",
		Short: "Mark a file verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				f, err := d.SetVerified(ctx, args[0], !off)
				if err != nil {
					return err
				}
				if f.Verified {
					p.success("Verified %q", f.Name)
				} else {
					p.success("Cleared verification of %q", f.Name)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Clear the verified flag instead")
	return cmd
}

// UsageCommand prints the storage usage report.
func UsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				r := d.Usage()
				p.info("%s (%.1f%%, %d files, %s free)",
					quota.Summary(r), r.Fraction*100, r.FileCount, humanBytes(r.FreeBytes))
				return nil
			})
		},
	}
}

func kindName(folder bool) string {
	if folder {
		return "folder"
	}
	return "file"
}
