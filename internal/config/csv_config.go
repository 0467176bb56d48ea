package config

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/filez/internal/constants"
)

// Config represents the filez client configuration
type Config struct {
	// Server settings
	BaseURL    string // Root URL of the file service, e.g. https://files.example.com/files
	AuthToken  string // Session token sent as "<AuthScheme> <AuthToken>"
	AuthScheme string

	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Request behaviour
	RetryMax          int     // Retries for idempotent reads
	RequestsPerSecond float64 // Client-side pacing, 0 disables it

	// Local state
	ClipboardPath string // bbolt file holding the clipboard entry, empty means in-memory

	// Drop sources
	S3Region        string
	S3Endpoint      string // Optional S3-compatible endpoint
	AzureAccountURL string // Blob service URL, optionally with a SAS query, for azure:// sources

	// Editing
	Editor string // Command used by "filez edit", falls back to $EDITOR then vi

	DetailedLogging bool
}

// DefaultConfig returns a Config populated with defaults
func DefaultConfig() *Config {
	return &Config{
		AuthScheme:        constants.DefaultAuthScheme,
		ProxyMode:         "no-proxy",
		RetryMax:          constants.DefaultRetryMax,
		RequestsPerSecond: constants.DefaultRequestsPerSecond,
		ClipboardPath:     GetDefaultClipboardPath(),
	}
}

// LoadConfigCSV loads configuration from a CSV file
// CSV format: key,value pairs
func LoadConfigCSV(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if config doesn't exist
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read config CSV: %w", err)
	}

	for i, record := range records {
		if i == 0 {
			// Skip header row if it looks like a header
			if len(record) >= 2 && strings.ToLower(record[0]) == "key" {
				continue
			}
		}

		if len(record) < 2 {
			continue
		}

		key := strings.TrimSpace(strings.ToLower(record[0]))
		value := strings.TrimSpace(record[1])

		switch key {
		case "base_url":
			cfg.BaseURL = value
		case "auth_scheme":
			if value != "" {
				cfg.AuthScheme = value
			}
		case "auth_token", "token":
			// SECURITY: tokens belong in the token file or FILEZ_TOKEN
			if value != "" {
				log.Printf("[WARN] %s in config file is ignored for security - use FILEZ_TOKEN env var or --token-file flag", key)
			}
		case "proxy_mode":
			cfg.ProxyMode = value
		case "proxy_host":
			cfg.ProxyHost = value
		case "proxy_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ProxyPort = v
			}
		case "proxy_user":
			cfg.ProxyUser = value
		case "proxy_password":
			if value != "" {
				log.Printf("[WARN] proxy_password in config file is ignored for security - use secure prompt at runtime")
			}
		case "no_proxy":
			cfg.NoProxy = value
		case "proxy_warmup":
			cfg.ProxyWarmup = parseBool(value)
		case "retry_max":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.RetryMax = v
			}
		case "requests_per_second":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.RequestsPerSecond = v
			}
		case "clipboard_path":
			cfg.ClipboardPath = value
		case "s3_region":
			cfg.S3Region = value
		case "s3_endpoint":
			cfg.S3Endpoint = value
		case "azure_account_url":
			cfg.AzureAccountURL = value
		case "editor":
			cfg.Editor = value
		case "detailed_logging":
			cfg.DetailedLogging = parseBool(value)
		}
	}

	return cfg, nil
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// SaveConfigCSV saves configuration to a CSV file
// CSV format: key,value pairs
func SaveConfigCSV(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"key", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// SECURITY: auth_token, proxy_password and SAS tokens are intentionally NOT saved
	records := [][]string{
		{"base_url", cfg.BaseURL},
		{"auth_scheme", cfg.AuthScheme},
		{"proxy_mode", cfg.ProxyMode},
		{"proxy_host", cfg.ProxyHost},
		{"proxy_port", strconv.Itoa(cfg.ProxyPort)},
		{"proxy_user", cfg.ProxyUser},
		{"no_proxy", cfg.NoProxy},
		{"proxy_warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		{"retry_max", strconv.Itoa(cfg.RetryMax)},
		{"requests_per_second", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)},
		{"clipboard_path", cfg.ClipboardPath},
		{"s3_region", cfg.S3Region},
		{"s3_endpoint", cfg.S3Endpoint},
		{"azure_account_url", withoutQuery(cfg.AzureAccountURL)},
		{"editor", cfg.Editor},
		{"detailed_logging", strconv.FormatBool(cfg.DetailedLogging)},
	}

	for _, record := range records {
		// Only write non-empty values to keep file clean
		if record[1] != "" && record[1] != "0" && record[1] != "false" {
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
	}

	return nil
}

// MergeWithFlagsAndTokenFile merges config with flags, token file, and environment variables
// Token priority (highest to lowest):
//  1. --token flag
//  2. FILEZ_TOKEN environment variable
//  3. --token-file flag
//  4. Default token file (~/.config/filez/token)
func (c *Config) MergeWithFlagsAndTokenFile(token, tokenFilePath, baseURL, proxyMode, proxyHost string, proxyPort int) {
	var sources []string

	var defaultToken string
	if defaultTokenPath := GetDefaultTokenPath(); defaultTokenPath != "" {
		if t, err := ReadTokenFile(defaultTokenPath); err == nil && t != "" {
			defaultToken = t
			sources = append(sources, fmt.Sprintf("default token file (%s)", defaultTokenPath))
		}
	}

	var explicitToken string
	if tokenFilePath != "" {
		if t, err := ReadTokenFile(tokenFilePath); err == nil && t != "" {
			explicitToken = t
			sources = append(sources, "--token-file flag")
		}
	}

	envToken := os.Getenv("FILEZ_TOKEN")
	if envToken != "" {
		sources = append(sources, "FILEZ_TOKEN environment variable")
	}

	if token != "" {
		sources = append(sources, "--token flag")
	}

	if len(sources) > 1 {
		log.Printf("[WARN] Multiple token sources detected: %v", sources)
		log.Printf("[WARN] Using: %s", sources[len(sources)-1])
	}

	// Apply lowest to highest, each overwriting the previous
	for _, t := range []string{defaultToken, explicitToken, envToken, token} {
		if t != "" {
			c.AuthToken = t
		}
	}

	if envURL := os.Getenv("FILEZ_URL"); envURL != "" {
		c.BaseURL = envURL
	}
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}

	if baseURL != "" {
		c.BaseURL = baseURL
	}
	if proxyMode != "" {
		c.ProxyMode = proxyMode
	}
	if proxyHost != "" {
		c.ProxyHost = proxyHost
	}
	if proxyPort > 0 {
		c.ProxyPort = proxyPort
	}

	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http") {
		c.BaseURL = "https://" + c.BaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	if !strings.Contains(proxyURL, "://") {
		proxyURL = "http://" + proxyURL
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return
	}
	c.ProxyHost = u.Hostname()
	if port, err := strconv.Atoi(u.Port()); err == nil {
		c.ProxyPort = port
	}
	if c.ProxyHost != "" && c.ProxyMode == "no-proxy" {
		c.ProxyMode = "system"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required (set via FILEZ_URL env var, --url flag or base_url in config)")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if c.AuthToken == "" {
		return fmt.Errorf("session token is required (set via FILEZ_TOKEN env var or --token-file flag)")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry_max must not be negative")
	}
	switch strings.ToLower(c.ProxyMode) {
	case "", "no-proxy", "system", "ntlm", "basic":
	default:
		return fmt.Errorf("unsupported proxy mode: %s", c.ProxyMode)
	}
	return nil
}

// withoutQuery drops the query string (a SAS token) from a URL.
func withoutQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
