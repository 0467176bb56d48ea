package cli

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/pathutil"
	"github.com/rescale/filez/internal/progress"
)

// newZipCmd creates the 'zip' command.
func newZipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zip <dir> <name> [name...]",
		Short: "Archive entries of a directory on the server",
		Long: `Ask the server to zip the named entries of dir into a new archive in
the same directory.

Example:
  filez zip /reports q1.pdf q2.pdf figures`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			f, err := client.Zip(GetContext(), args[0], args[1:])
			if err != nil {
				refreshOnNotFound(GetContext(), client, args[0], cmd.ErrOrStderr(), err)
				return describeError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path.Join(api.CleanPath(args[0]), f.Name))
			return nil
		},
	}
}

// newUnzipCmd creates the 'unzip' command.
func newUnzipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unzip <archive>",
		Short: "Extract an archive on the server next to itself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			files, err := client.Unzip(GetContext(), args[0])
			if err != nil {
				refreshOnNotFound(GetContext(), client, path.Dir(api.CleanPath(args[0])), cmd.ErrOrStderr(), err)
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Extracted %d entr%s from %s\n", len(files), plural(len(files), "y", "ies"), api.CleanPath(args[0]))
			for _, f := range files {
				suffix := ""
				if f.IsDirectory() {
					suffix = "/"
				}
				fmt.Fprintf(out, "  %s%s\n", f.Name, suffix)
			}
			return nil
		},
	}
}

// newZipDownloadCmd creates the 'zip-download' command.
func newZipDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "zip-download <dir> <name> [name...]",
		Short: "Download entries of a directory as one zip file",
		Long: `Stream a zip of the named entries of dir into a local file. The server
builds the archive on the fly; nothing is stored remotely.

Example:
  filez zip-download /reports q1.pdf figures -o reports.zip`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = path.Base(api.CleanPath(args[0])) + ".zip"
				if output == "/.zip" {
					output = "download.zip"
				}
			}

			client, err := getAPIClient()
			if err != nil {
				return err
			}

			target, err := pathutil.ResolveLocal(output)
			if err != nil {
				return err
			}
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}

			bar := progress.NewDownloadBar(path.Base(target), -1)
			_, err = client.ZipDownload(GetContext(), args[0], args[1:], bar.Track(f))
			bar.Complete(err)
			bar.Wait()

			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(target)
				return describeError(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Local zip file (default: <dir>.zip)")

	return cmd
}
