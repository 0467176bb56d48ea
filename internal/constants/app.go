package constants

import (
	"time"
)

// Server protocol
const (
	// DefaultAuthScheme - scheme used in the Authorization header ("<scheme> <token>")
	DefaultAuthScheme = "MrknAuth"

	// DirectoryMediaType - type reported by the server for directory entries
	DirectoryMediaType = "x-directory/normal"

	// UploadFormField - multipart form field carrying the uploaded bytes
	UploadFormField = "file"

	// TextMediaType - content type used when saving an edited buffer
	TextMediaType = "text/plain; charset=utf-8"
)

// Edit limits
const (
	// MaxEditableSize - files larger than this are not opened for editing (3 MiB)
	MaxEditableSize = 3 * 1024 * 1024
)

// Flattening
const (
	// DirectoryPageSize - number of entries requested per directory page when
	// expanding a dropped directory tree
	DirectoryPageSize = 256

	// MaxFlattenConcurrency - maximum number of directory readers running at once
	MaxFlattenConcurrency = 8
)

// Event Bus Configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Publishing never blocks: when a subscriber's buffer is full the event is dropped
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// UI Update Intervals
const (
	// ProgressUpdateInterval - interval for progress bar updates (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// ProgressBarWidth - width of mpb upload bars
	ProgressBarWidth = 40
)

// API client retries
const (
	// DefaultRetryMax - retries for idempotent reads (GET/HEAD)
	DefaultRetryMax = 3

	// RetryWaitMin - minimum wait between retries
	RetryWaitMin = 500 * time.Millisecond

	// RetryWaitMax - maximum wait between retries
	RetryWaitMax = 10 * time.Second

	// DefaultRequestsPerSecond - client-side pacing of API calls (0 disables it)
	DefaultRequestsPerSecond = 0

	// DefaultBurst - burst allowed by the client-side request limiter
	DefaultBurst = 20
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPClientTimeout - overall timeout for non-transfer requests
	HTTPClientTimeout = 300 * time.Second

	// ProxyWarmupTimeout - timeout for the proxy warmup request
	ProxyWarmupTimeout = 15 * time.Second
)

// Local storage
const (
	// ConfigDirName - directory under the user config dir holding filez state
	ConfigDirName = "filez"

	// ConfigFileName - CSV configuration file name
	ConfigFileName = "config.csv"

	// TokenFileName - file holding the session token
	TokenFileName = "token"

	// ClipboardFileName - bbolt database holding the clipboard entry
	ClipboardFileName = "clipboard.db"

	// ClipboardOpenTimeout - how long to wait for the clipboard database lock
	ClipboardOpenTimeout = 2 * time.Second
)
