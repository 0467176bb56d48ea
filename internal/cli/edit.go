package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/editor"
)

// newEditCmd creates the 'edit' command.
func newEditCmd() *cobra.Command {
	var (
		editorCmd string
		fromFile  string
		apply     bool
	)

	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Edit a remote text file",
		Long: `Open a remote text file in a local editor and save it back.

The save only succeeds if nobody changed the file on the server since it
was opened. Otherwise your text is kept in a local file and you are asked
to reload the server copy before editing again.

The editor is --editor, then 'editor' in the config file, then $EDITOR,
then vi. With --from the content of a local file is saved instead.

With --apply the file stays open after each save and you are offered
another round in the editor, saving against the version just written.

Examples:
  filez edit /notes/todo.txt
  filez edit /notes/todo.txt --apply
  filez edit /notes/todo.txt --from todo.txt`,
		Args: cobra.ExactArgs(1),
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

			bus, stop := newEventBus()
			defer stop()

			ctrl := editor.NewController(client, bus, GetLogger())
			if err := ctrl.Open(ctx, args[0]); err != nil {
				refreshOnNotFound(ctx, client, path.Dir(api.CleanPath(args[0])), cmd.ErrOrStderr(), err)
				return describeError(err)
			}
			defer ctrl.Close()

			for {
				content, err := nextContent(cmd, cfg, ctrl.Session(), editorCmd, fromFile)
				if err != nil {
					return err
				}
				if err := ctrl.Edit(content); err != nil {
					return err
				}
				session := ctrl.Session()
				if !session.Dirty {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes")
					return nil
				}

				f, err := ctrl.Save(ctx)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s (%d bytes)\n", session.Path, f.Size)
					if !apply || fromFile != "" {
						return nil
					}
					if cerr := confirm(cmd, "Keep editing?"); cerr != nil {
						return nil
					}
					continue
				}
				if ctrl.State() != editor.StateConflict {
					return describeError(err)
				}

				kept, kerr := keepBuffer(session)
				if kerr != nil {
					GetLogger().Warn().Err(kerr).Msg("Could not keep unsaved changes")
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s changed on the server since it was opened. Your text is in %s\n", session.Path, kept)
				}

				if fromFile != "" {
					return describeError(err)
				}
				if cerr := confirm(cmd, "Reload the server copy and edit again?"); cerr != nil {
					return describeError(err)
				}
				if err := ctrl.Reload(ctx); err != nil {
					return describeError(err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&editorCmd, "editor", "", "Editor command (default: config, $EDITOR, vi)")
	cmd.Flags().StringVar(&fromFile, "from", "", "Save the content of this local file without opening an editor")
	cmd.Flags().BoolVar(&apply, "apply", false, "Keep the file open after saving and offer to edit again")

	return cmd
}

// nextContent returns the text to save: the --from file, or the buffer
// after a round trip through the user's editor.
func nextContent(cmd *cobra.Command, cfg *config.Config, session *editor.Session, editorCmd, fromFile string) ([]byte, error) {
	if fromFile != "" {
		content, err := os.ReadFile(fromFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fromFile, err)
		}
		return content, nil
	}

	tmp, err := os.CreateTemp("", "filez-*-"+path.Base(session.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(session.Buffer); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	argv := strings.Fields(editorCommand(cfg, editorCmd))
	c := exec.CommandContext(GetContext(), argv[0], append(argv[1:], name)...)
	// Only a real terminal is handed over; a piped stdin stays with the
	// prompts that follow.
	if f, ok := cmd.InOrStdin().(*os.File); ok {
		c.Stdin = f
	}
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()

	GetLogger().Debug().Strs("argv", c.Args).Msg("Starting editor")
	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("editor %s failed: %w", argv[0], err)
	}

	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", name, err)
	}
	return content, nil
}

func editorCommand(cfg *config.Config, flag string) string {
	for _, c := range []string{flag, cfg.Editor, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return "vi"
}

// keepBuffer writes the unsaved buffer into the working directory so a
// reload does not lose it.
func keepBuffer(session *editor.Session) (string, error) {
	name := path.Base(session.Path) + ".unsaved"
	if _, err := os.Stat(name); err == nil || !errors.Is(err, os.ErrNotExist) {
		f, err := os.CreateTemp(".", path.Base(session.Path)+".unsaved-*")
		if err != nil {
			return "", err
		}
		name = f.Name()
		f.Close()
	}
	if err := os.WriteFile(name, session.Buffer, 0o600); err != nil {
		return "", err
	}
	return name, nil
}
