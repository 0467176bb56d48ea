// Package config provides configuration management for filez.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rescale/filez/internal/constants"
)

// getConfigDir returns the platform-appropriate config directory.
// - Windows: %APPDATA%\filez
// - Unix: ~/.config/filez (XDG standard)
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, constants.ConfigDirName)
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, constants.ConfigDirName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", constants.ConfigDirName)
	}
	return ""
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	dir := getConfigDir()
	if dir == "" {
		return constants.ConfigFileName
	}
	return filepath.Join(dir, constants.ConfigFileName)
}

// GetDefaultTokenPath returns the default token file path
func GetDefaultTokenPath() string {
	dir := getConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, constants.TokenFileName)
}

// GetDefaultClipboardPath returns the default clipboard database path.
// Empty means no persistent clipboard is available.
func GetDefaultClipboardPath() string {
	dir := getConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, constants.ClipboardFileName)
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	dir := getConfigDir()
	if dir == "" {
		return fmt.Errorf("could not determine config directory")
	}
	return os.MkdirAll(dir, 0700)
}

// ReadTokenFile reads a session token from a file
// Warns if file permissions are too open (not 0600 on Unix systems)
func ReadTokenFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat token file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode&0077 != 0 {
			fmt.Fprintf(os.Stderr, "Warning: Token file %s has insecure permissions %04o. Consider using 'chmod 600 %s'\n", path, mode, path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}

// WriteTokenFile writes a session token to a file with secure permissions (0600)
func WriteTokenFile(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("cannot write empty token")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}
