// Package cli provides the command-line interface for filez.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/logging"
	"github.com/rescale/filez/internal/version"
)

var (
	// Global flags
	cfgFile   string
	token     string
	tokenFile string // Path to file containing the session token
	baseURL   string
	proxyMode string
	proxyHost string
	proxyPort int
	rps       float64
	verbose   bool
	debug     bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "filez",
		Short: "filez - command-line client for a remote file tree",
		Long: `filez ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse and change a remote file tree over HTTP.

  ls, mkdir, touch, rename, rm       manage entries
  upload                             queue local, s3:// or azure:// trees for upload
  copy, cut, paste, clipboard        copy or move entries across invocations
  zip, unzip, zip-download           server-side archives
  cat, edit                          read and edit text files

Configuration is read from ~/.config/filez/config.csv, FILEZ_URL and
FILEZ_TOKEN. Flags take precedence.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Session token (overrides all other sources)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing the session token")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "Root URL of the file service (overrides config)")
	rootCmd.PersistentFlags().StringVar(&proxyMode, "proxy-mode", "", "Proxy mode: no-proxy, system, basic, ntlm")
	rootCmd.PersistentFlags().StringVar(&proxyHost, "proxy-host", "", "Proxy host")
	rootCmd.PersistentFlags().IntVar(&proxyPort, "proxy-port", 0, "Proxy port")
	rootCmd.PersistentFlags().Float64Var(&rps, "rps", -1, "Client-side request rate limit per second (0 disables it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(&cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate a shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(out)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			default:
				return rootCmd.GenPowerShellCompletion(out)
			}
		},
	})
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newTouchCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newCatCmd())

	rootCmd.AddCommand(newZipCmd())
	rootCmd.AddCommand(newUnzipCmd())
	rootCmd.AddCommand(newZipDownloadCmd())

	rootCmd.AddCommand(newCopyCmd())
	rootCmd.AddCommand(newCutCmd())
	rootCmd.AddCommand(newPasteCmd())
	rootCmd.AddCommand(newClipboardCmd())

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newEditCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
