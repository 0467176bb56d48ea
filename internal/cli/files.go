package cli

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/cloud"
	"github.com/rescale/filez/internal/diskspace"
	"github.com/rescale/filez/internal/models"
	"github.com/rescale/filez/internal/pathutil"
	"github.com/rescale/filez/internal/pipeline"
	"github.com/rescale/filez/internal/progress"
	"github.com/rescale/filez/internal/validation"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var long, readme bool

	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory",
		Long: `List the entries of a remote directory. Directories are shown with a
trailing slash.

Examples:
  filez ls
  filez ls /projects -l
  filez ls /projects --readme`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 1 {
				dir = args[0]
			}

			client, err := getAPIClient()
			if err != nil {
				return err
			}

			listing, err := client.List(GetContext(), dir)
			if err != nil {
				if api.Classify(err).OffersRefresh() && dir != "/" {
					refreshOnNotFound(GetContext(), client, path.Dir(api.CleanPath(dir)), cmd.ErrOrStderr(), err)
				}
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			printListing(out, listing, long)
			if listing.Readme != "" {
				if readme {
					fmt.Fprintf(out, "\n%s\n", strings.TrimRight(listing.Readme, "\n"))
				} else {
					fmt.Fprintln(out, "\nThis directory has a README (show it with --readme)")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size and modification time")
	cmd.Flags().BoolVar(&readme, "readme", false, "Print the directory README")

	return cmd
}

// printListing writes directories first, then files, each sorted by name.
func printListing(out io.Writer, listing *models.Listing, long bool) {
	dirs := listing.Directories()
	files := listing.Regular()
	byName := func(s []models.FileResource) {
		sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
	}
	byName(dirs)
	byName(files)

	if !long {
		for _, d := range dirs {
			fmt.Fprintf(out, "%s/\n", d.Name)
		}
		for _, f := range files {
			fmt.Fprintln(out, f.Name)
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SIZE\tMODIFIED\tNAME")
		for _, d := range dirs {
			fmt.Fprintf(tw, "%s\t%s\t%s/\n", "-", formatModTime(d), d.Name)
		}
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", cloud.FormatBytes(f.Size), formatModTime(f), f.Name)
		}
		tw.Flush()
	}

	summary := fmt.Sprintf("%d director%s, %d file%s, %s",
		len(dirs), plural(len(dirs), "y", "ies"), len(files), plural(len(files), "", "s"), cloud.FormatBytes(listing.Size))
	if listing.Quota > 0 {
		summary += fmt.Sprintf(" of %s quota", cloud.FormatBytes(listing.Quota))
	}
	fmt.Fprintf(out, "\n%s\n", summary)
}

func formatModTime(f models.FileResource) string {
	if f.LastModified == 0 {
		return "-"
	}
	return f.ModTime().Local().Format(time.DateTime)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <dir> [dir...]",
		Short: "Create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			for _, p := range args {
				if err := validation.ValidateName(path.Base(api.CleanPath(p))); err != nil {
					return err
				}
				if _, err := client.CreateDirectory(GetContext(), p); err != nil {
					return createError(p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s/\n", api.CleanPath(p))
			}
			return nil
		},
	}
}

// newTouchCmd creates the 'touch' command.
func newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <file> [file...]",
		Short: "Create empty text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			for _, p := range args {
				if err := validation.ValidateName(path.Base(api.CleanPath(p))); err != nil {
					return err
				}
				if _, err := client.CreateFile(GetContext(), p); err != nil {
					return createError(p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", api.CleanPath(p))
			}
			return nil
		},
	}
}

func createError(p string, err error) error {
	if api.IsTypeClash(err) {
		return fmt.Errorf("cannot create %s: a file or directory with that name already exists", api.CleanPath(p))
	}
	return describeError(err)
}

// newRenameCmd creates the 'rename' command.
func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename an entry within its directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateName(args[1]); err != nil {
				return err
			}
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			if err := client.Rename(GetContext(), args[0], args[1]); err != nil {
				refreshOnNotFound(GetContext(), client, path.Dir(api.CleanPath(args[0])), cmd.ErrOrStderr(), err)
				return describeError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Renamed %s to %s\n", api.CleanPath(args[0]), args[1])
			return nil
		},
	}
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm <path> [path...]",
		Short: "Delete files and directories",
		Long: `Delete entries one at a time, in the order given. The first failure
stops the batch; entries after it are left untouched.

Examples:
  filez rm /tmp/a.txt /tmp/b.txt
  filez rm /old --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintf(cmd.ErrOrStderr(), "You are about to delete %d entr%s. This cannot be undone.\n",
					len(args), plural(len(args), "y", "ies"))
				for _, p := range args {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", api.CleanPath(p))
				}
				if err := confirm(cmd, "Delete?"); err != nil {
					return err
				}
			}

			client, err := getAPIClient()
			if err != nil {
				return err
			}

			bus, stop := newEventBus()
			defer stop()

			ui := progress.NewOperationUI(len(args), "Deleting")
			ui.Attach(bus)

			res, err := pipeline.New(client, bus, GetLogger()).DeleteAll(GetContext(), args)
			ui.Wait()

			return reportBatch(cmd, client, res, err)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// reportBatch prints the outcome of a paste or delete batch.
func reportBatch(cmd *cobra.Command, client *api.Client, res *pipeline.Result, err error) error {
	out := cmd.OutOrStdout()
	if err == nil {
		fmt.Fprintf(out, "✓ %s: %d done in %s\n", res.Operation, len(res.Done), res.Elapsed.Round(time.Millisecond))
		return nil
	}
	if res == nil {
		return describeError(err)
	}

	fmt.Fprintf(out, "%s: %d done, failed at %s", res.Operation, len(res.Done), res.Failed)
	if len(res.Remaining) > 0 {
		fmt.Fprintf(out, ", not attempted: %s", strings.Join(res.Remaining, " "))
	}
	fmt.Fprintln(out)

	refreshOnNotFound(GetContext(), client, path.Dir(api.CleanPath(res.Failed)), cmd.ErrOrStderr(), err)
	return describeError(err)
}

// newCatCmd creates the 'cat' command.
func newCatCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "cat <file>",
		Short: "Print or download a file",
		Long: `Write a remote file to stdout, or to a local file with --output.

Examples:
  filez cat /notes/todo.txt
  filez cat /data/run.log -o run.log`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}

			if output == "" {
				if _, err := client.Download(GetContext(), args[0], cmd.OutOrStdout()); err != nil {
					return describeError(err)
				}
				return nil
			}

			target, err := pathutil.ResolveLocal(output)
			if err != nil {
				return err
			}
			size := remoteSize(client, args[0])
			if err := diskspace.Check(target, size); err != nil {
				return err
			}

			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			defer f.Close()

			bar := progress.NewDownloadBar(path.Base(api.CleanPath(args[0])), size)
			_, err = client.Download(GetContext(), args[0], bar.Track(f))
			bar.Complete(err)
			bar.Wait()
			if err != nil {
				return describeError(err)
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this local file instead of stdout")

	return cmd
}

// remoteSize looks the file up in its parent listing. It returns -1 when
// the size cannot be determined.
func remoteSize(client *api.Client, p string) int64 {
	p = api.CleanPath(p)
	listing, err := client.List(GetContext(), path.Dir(p))
	if err != nil {
		return -1
	}
	for _, f := range listing.Regular() {
		if f.Name == path.Base(p) {
			return f.Size
		}
	}
	return -1
}
