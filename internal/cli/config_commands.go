package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage filez configuration",
		Long: `Configuration management commands for filez.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the connection to the file service
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for filez.

The configuration is saved to ~/.config/filez/config.csv and the session
token to ~/.config/filez/token (mode 0600). The token is never written
to the CSV file.

Use --force to overwrite existing configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'filez config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "filez Configuration Setup")
			fmt.Fprintln(out, "=========================")
			fmt.Fprintln(out)

			reader := bufio.NewReader(cmd.InOrStdin())
			cfg := config.DefaultConfig()

			for cfg.BaseURL == "" {
				cfg.BaseURL = promptLine(reader, out, "File service URL (required)", "")
				if cfg.BaseURL == "" {
					fmt.Fprintln(out, "  Error: the service URL is required")
				}
			}
			if !strings.HasPrefix(cfg.BaseURL, "http") {
				cfg.BaseURL = "https://" + cfg.BaseURL
			}
			cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

			sessionToken, err := promptSecret(cmd, reader, "Session token (leave empty to set FILEZ_TOKEN later)")
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			if v, err := strconv.ParseFloat(promptLine(reader, out, "Requests per second (0 = unlimited)",
				strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)), 64); err == nil && v >= 0 {
				cfg.RequestsPerSecond = v
			}

			fmt.Fprintln(out)
			switch strings.ToLower(promptLine(reader, out, "Configure proxy? [y/N]", "")) {
			case "y", "yes":
				fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
				cfg.ProxyMode = promptLine(reader, out, "Proxy mode", "system")
				if cfg.ProxyMode != "no-proxy" {
					cfg.ProxyHost = promptLine(reader, out, "Proxy host", "")
					cfg.ProxyPort = 8080
					if v, err := strconv.Atoi(promptLine(reader, out, "Proxy port", "8080")); err == nil && v > 0 {
						cfg.ProxyPort = v
					}
				}
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Upload sources (press Enter to skip)")
			fmt.Fprintln(out, "------------------------------------")
			cfg.S3Region = promptLine(reader, out, "S3 region for s3:// sources", "")
			cfg.S3Endpoint = promptLine(reader, out, "S3-compatible endpoint", "")
			cfg.AzureAccountURL = promptLine(reader, out, "Azure blob account URL for azure:// sources", "")

			if err := cfg.Validate(); err != nil && !strings.Contains(err.Error(), "session token") {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := config.SaveConfigCSV(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)

			if sessionToken != "" {
				tokenPath := config.GetDefaultTokenPath()
				if err := config.WriteTokenFile(tokenPath, sessionToken); err != nil {
					return fmt.Errorf("failed to save session token: %w", err)
				}
				GetLogger().Info().Str("path", tokenPath).Msg("Session token saved")
				fmt.Fprintf(out, "✓ Session token saved to: %s\n", tokenPath)
			} else {
				fmt.Fprintln(out, "No session token saved. Set FILEZ_TOKEN or pass --token-file.")
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Test your configuration with: filez config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/filez/config.csv)
  2. Token file (~/.config/filez/token)
  3. Environment variables (FILEZ_URL, FILEZ_TOKEN)
  4. Command-line flags (--url, --token, --token-file)

Priority: flags > environment > token file > config file > defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  URL:           %s\n", orUnset(cfg.BaseURL))
			if cfg.AuthToken != "" {
				// Never display any portion of the token
				fmt.Fprintf(out, "  Session token: <set (%d chars)>\n", len(cfg.AuthToken))
			} else {
				fmt.Fprintln(out, "  Session token: <not set>")
			}
			fmt.Fprintf(out, "  Auth scheme:   %s\n", cfg.AuthScheme)
			fmt.Fprintf(out, "  Retries:       %d\n", cfg.RetryMax)
			fmt.Fprintf(out, "  Rate limit:    %s\n", formatRate(cfg.RequestsPerSecond))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Proxy Settings:")
			fmt.Fprintf(out, "  Proxy Mode: %s\n", cfg.ProxyMode)
			if cfg.ProxyHost != "" {
				fmt.Fprintf(out, "  Proxy Host: %s\n", cfg.ProxyHost)
				fmt.Fprintf(out, "  Proxy Port: %d\n", cfg.ProxyPort)
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Local State:")
			fmt.Fprintf(out, "  Clipboard: %s\n", orValue(cfg.ClipboardPath, "<in memory>"))
			fmt.Fprintf(out, "  Editor:    %s\n", editorCommand(cfg, ""))
			fmt.Fprintln(out)

			if cfg.S3Region != "" || cfg.S3Endpoint != "" || cfg.AzureAccountURL != "" {
				fmt.Fprintln(out, "Upload Sources:")
				if cfg.S3Region != "" {
					fmt.Fprintf(out, "  S3 Region:   %s\n", cfg.S3Region)
				}
				if cfg.S3Endpoint != "" {
					fmt.Fprintf(out, "  S3 Endpoint: %s\n", cfg.S3Endpoint)
				}
				if cfg.AzureAccountURL != "" {
					u, _, _ := strings.Cut(cfg.AzureAccountURL, "?")
					fmt.Fprintf(out, "  Azure URL:   %s\n", u)
				}
				fmt.Fprintln(out)
			}

			path := configPath()
			fmt.Fprintf(out, "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

func orUnset(s string) string {
	return orValue(s, "<not set>")
}

func orValue(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatRate(rps float64) string {
	if rps <= 0 {
		return "unlimited"
	}
	return strconv.FormatFloat(rps, 'f', -1, 64) + " requests/s"
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the file service",
		Long: `List the root directory with the current configuration.

Use this to verify your session token and network connectivity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Fprintf(out, "Service URL: %s\n", cfg.BaseURL)
			fmt.Fprintln(out, "Testing connection...")

			client, err := api.NewClient(cfg)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			listing, err := client.List(ctx, "/")
			if err != nil {
				GetLogger().Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				return fmt.Errorf("connection test failed: %w", describeError(err))
			}

			GetLogger().Info().Msg("Connection test successful")
			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintf(out, "  Root directory: %d entr%s\n", len(listing.Files), plural(len(listing.Files), "y", "ies"))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format(time.DateTime))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: filez config init")
			}
			return nil
		},
	}
}
