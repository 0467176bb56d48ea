package cli

import (
	"context"
	"errors"
	"fmt"
	"path"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/cloud"
	"github.com/rescale/filez/internal/cloud/providers/azure"
	"github.com/rescale/filez/internal/cloud/providers/s3"
	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/localfs"
	"github.com/rescale/filez/internal/progress"
	"github.com/rescale/filez/internal/transfer"
	"github.com/rescale/filez/internal/validation"
)

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var (
		dest    string
		retries int
		opts    localfs.Options
	)

	cmd := &cobra.Command{
		Use:   "upload <source> [source...]",
		Short: "Upload files and directory trees",
		Long: `Upload local paths, s3://bucket/prefix or azure://container/prefix
sources into a remote directory. Directories are expanded to their files,
which keep their relative paths under the destination.

Sources are queued in the order given, the files of a directory in path
order, and uploaded one at a time. A failed
upload stops the queue; --retries re-sends the failed file before giving
up.

Examples:
  filez upload report.pdf --to /reports
  filez upload ./results s3://lab-data/run-42/ --to /runs`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			ctx := GetContext()

			entries, err := resolveSources(ctx, cfg, args, opts)
			if err != nil {
				return err
			}

			flattenTimer := cloud.StartTimer(cmd.ErrOrStderr(), "Flatten sources")
			items, report, err := transfer.FlattenAll(ctx, entries)
			flattenTimer.Stop()
			if report != nil {
				cloud.TimingLog(cmd.ErrOrStderr(), "Flattened %d files (%s), %d omitted",
					report.Files, cloud.FormatBytes(report.Bytes), len(report.Omitted))
			}
			if err != nil {
				return describeError(err)
			}
			for _, o := range report.Omitted {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Skipped %s: %v\n", o.Path, o.Err)
			}
			valid := items[:0]
			for _, it := range items {
				if err := validation.ValidateRelativePath(it.Path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Skipped %s: %v\n", it.Path, err)
					continue
				}
				valid = append(valid, it)
			}
			items = valid
			if _, renamed := transfer.ResolveCollisions(items); renamed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %d files shared a destination path and were numbered\n", renamed)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to upload")
				return nil
			}

			bus, stop := newEventBus()
			defer stop()

			ui := progress.NewUploadUI(len(items), api.CleanPath(dest))
			ui.Attach(bus)

			queue := transfer.NewQueue(bus)
			for _, it := range items {
				queue.Enqueue(transfer.NewTask(it.Path, it.Blob))
			}

			GetLogger().Info().Int("files", report.Files).Int64("bytes", report.Bytes).Str("dest", dest).Msg("Queued uploads")

			exec := transfer.NewExecutor(queue, transfer.UploadInto(client, dest), bus, GetLogger())
			uploadTimer := cloud.StartTimer(cmd.ErrOrStderr(), "Upload queue")

			var uploaded int
			err = runWithRetries(ctx, exec, queue, retries, func(n int) { uploaded = n })
			if ctx.Err() != nil {
				queue.CancelAll()
			}
			ui.Wait()
			uploadTimer.StopWithThroughput(report.Bytes)

			stats := queue.Stats()
			out := cmd.OutOrStdout()
			if err == nil {
				fmt.Fprintf(out, "✓ Uploaded %d file%s (%s) to %s\n",
					stats.Succeeded, plural(stats.Succeeded, "", "s"), cloud.FormatBytes(report.Bytes), api.CleanPath(dest))
				GetLogger().Debug().Int("uploaded_last_run", uploaded).Msg("Upload finished")
				return nil
			}

			fmt.Fprintf(out, "Uploaded %d of %d file%s; %d not attempted\n",
				stats.Succeeded, stats.Total(), plural(stats.Total(), "", "s"), stats.Pending)

			var halt *transfer.HaltError
			if errors.As(err, &halt) && halt.Err != nil {
				refreshOnNotFound(ctx, client, path.Dir(path.Join(api.CleanPath(dest), halt.Task.Path)), cmd.ErrOrStderr(), halt.Err)
				return fmt.Errorf("upload of %s %s: %w", halt.Task.Path, halt.State, describeError(halt.Err))
			}
			return describeError(err)
		},
	}

	cmd.Flags().StringVar(&dest, "to", "/", "Remote directory to upload into")
	cmd.Flags().IntVar(&retries, "retries", 0, "Times to re-send a failed file before stopping")
	cmd.Flags().BoolVar(&opts.IncludeHidden, "include-hidden", false, "Include hidden files inside directories")
	cmd.Flags().BoolVar(&opts.FollowSymlinks, "follow-symlinks", false, "Descend into symlinked directories")

	return cmd
}

// runWithRetries runs exec until the queue drains, re-queueing a failed
// head task up to retries times. Aborted tasks are never retried.
func runWithRetries(ctx context.Context, exec *transfer.Executor, queue *transfer.Queue, retries int, onDrained func(int)) error {
	for attempt := 0; ; attempt++ {
		err := exec.Run(ctx, onDrained)
		var halt *transfer.HaltError
		if err == nil || attempt >= retries || !errors.As(err, &halt) || halt.State != transfer.TaskFailed || ctx.Err() != nil {
			return err
		}
		GetLogger().Warn().Str("path", halt.Task.Path).Int("attempt", attempt+1).Err(halt.Err).Msg("Retrying upload")
		if rerr := queue.Retry(halt.Task.ID); rerr != nil {
			return err
		}
	}
}

// resolveSources turns command-line sources into entries. Clients for
// object storage are created once per bucket or container.
func resolveSources(ctx context.Context, cfg *config.Config, args []string, opts localfs.Options) ([]transfer.Entry, error) {
	var (
		entries    []transfer.Entry
		s3Client   *awss3.Client
		containers = make(map[string]*azure.Source)
	)

	for _, arg := range args {
		if !cloud.IsRemote(arg) {
			e, err := localfs.Entry(arg, opts)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
			continue
		}

		loc, err := cloud.ParseLocation(arg)
		if err != nil {
			return nil, err
		}

		var e transfer.Entry
		switch loc.Scheme {
		case cloud.SchemeS3:
			if s3Client == nil {
				if s3Client, err = s3.NewS3Client(ctx, cfg); err != nil {
					return nil, err
				}
			}
			e, err = s3.NewSource(s3Client, loc.Bucket).Entry(ctx, loc)

		case cloud.SchemeAzure:
			src, ok := containers[loc.Bucket]
			if !ok {
				c, cerr := azure.NewContainerClient(cfg, loc.Bucket)
				if cerr != nil {
					return nil, cerr
				}
				src = azure.NewSource(c, loc.Bucket)
				containers[loc.Bucket] = src
			}
			e, err = src.Entry(ctx, loc)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
