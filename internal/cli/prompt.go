package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// ErrNotConfirmed is returned when the user declines a destructive action.
var ErrNotConfirmed = errors.New("cancelled by user")

// stdinIsTerminal reports whether cmd reads from an interactive terminal.
// Input replaced with SetIn counts as interactive.
func stdinIsTerminal(cmd *cobra.Command) bool {
	if cmd.InOrStdin() != os.Stdin {
		return true
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question. Without a terminal it refuses rather
// than guessing.
func confirm(cmd *cobra.Command, question string) error {
	if !stdinIsTerminal(cmd) {
		return fmt.Errorf("stdin is not a terminal: pass --yes to confirm")
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return nil
	}
	return ErrNotConfirmed
}

// promptLine prints label with its default and returns the trimmed answer,
// or def when the answer is empty.
func promptLine(reader *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// promptSecret reads a value without echo when stdin is a terminal.
func promptSecret(cmd *cobra.Command, reader *bufio.Reader, label string) (string, error) {
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "%s: ", label)

	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
