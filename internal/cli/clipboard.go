package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/clipboard"
	"github.com/rescale/filez/internal/pipeline"
	"github.com/rescale/filez/internal/progress"
)

// newCopyCmd creates the 'copy' command.
func newCopyCmd() *cobra.Command {
	return newMarkCmd(clipboard.OpCopy, "copy", "Mark entries to be copied by the next paste")
}

// newCutCmd creates the 'cut' command.
func newCutCmd() *cobra.Command {
	return newMarkCmd(clipboard.OpMove, "cut", "Mark entries to be moved by the next paste")
}

func newMarkCmd(op clipboard.Operation, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <path> [path...]",
		Short: short,
		Long: short + `. The mark replaces any earlier one and is kept until
a paste consumes it or 'clipboard clear' drops it.

Example:
  filez ` + use + ` /a/report.pdf /a/data
  filez paste /b`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cb, closeFn, err := openClipboard(cfg, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := cb.Mark(op, args); err != nil {
				return err
			}
			verb := "copy"
			if op == clipboard.OpMove {
				verb = "move"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Marked %d entr%s to %s. Run 'filez paste <dir>' to finish.\n",
				len(args), plural(len(args), "y", "ies"), verb)
			return nil
		},
	}
}

// newPasteCmd creates the 'paste' command.
func newPasteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paste [dir]",
		Short: "Copy or move the marked entries into a directory",
		Long: `Replay the last copy or cut into dir (default: /). The clipboard is
emptied before the first request. Entries are pasted one at a time in the
order they were marked; the first failure stops the batch and the entries
after it are not pasted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := "/"
			if len(args) == 1 {
				dest = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			client, err := getAPIClient()
			if err != nil {
				return err
			}

			bus, stop := newEventBus()
			defer stop()

			cb, closeFn, err := openClipboard(cfg, bus)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := cb.HasPending()
			if err != nil {
				return err
			}
			if !ok {
				return pipeline.ErrNoPendingClipboard
			}
			pending, err := cb.Peek()
			if err != nil {
				return err
			}

			ui := progress.NewOperationUI(len(pending.Sources), "Pasting")
			ui.Attach(bus)

			res, err := pipeline.New(client, bus, GetLogger()).Paste(GetContext(), cb, dest)
			ui.Wait()

			return reportBatch(cmd, client, res, err)
		},
	}
}

// newClipboardCmd creates the 'clipboard' command group.
func newClipboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clipboard",
		Short: "Inspect or clear the pending copy/cut",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the pending copy/cut",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cb, closeFn, err := openClipboard(cfg, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			entry, err := cb.Peek()
			if errors.Is(err, clipboard.ErrEmpty) {
				fmt.Fprintln(out, "Clipboard is empty")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s (marked %s)\n", entry.Operation, entry.MarkedAt.Local().Format(time.DateTime))
			for _, p := range entry.Sources {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the pending copy/cut",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cb, closeFn, err := openClipboard(cfg, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := cb.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Clipboard cleared")
			return nil
		},
	})

	return cmd
}
