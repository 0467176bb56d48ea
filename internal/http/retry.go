package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	nethttp "net/http"
	"strings"
	"time"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates the session or credentials are no longer valid (401, 403)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (429, 502, 503, 504)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates errors that should not be retried (4xx, 500, cancellation)
	ErrorTypeFatal
)

// StatusCoder is implemented by errors that carry an HTTP status code
type StatusCoder interface {
	HTTPStatus() int
}

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// MaxRetries is the maximum number of attempts (default: 4)
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff (default: 200ms)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 5s)
	MaxDelay time.Duration
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// ClassifyStatus maps an HTTP status code to an ErrorType
func ClassifyStatus(status int) ErrorType {
	switch {
	case status >= 200 && status < 300:
		return ErrorTypeSuccess
	case status == nethttp.StatusUnauthorized, status == nethttp.StatusForbidden:
		return ErrorTypeCredential
	case status == nethttp.StatusTooManyRequests,
		status == nethttp.StatusBadGateway,
		status == nethttp.StatusServiceUnavailable,
		status == nethttp.StatusGatewayTimeout:
		return ErrorTypeRetryable
	default:
		return ErrorTypeFatal
	}
}

// ClassifyError determines the error type for retry strategy
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return ClassifyStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeNetwork
	}

	// Cloud SDK errors mostly surface as strings
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "expiredtoken") ||
		strings.Contains(errStr, "authenticationfailed") ||
		strings.Contains(errStr, "authorization failure") ||
		strings.Contains(errStr, "signature not valid") {
		return ErrorTypeCredential
	}

	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "i/o timeout") {
		return ErrorTypeNetwork
	}

	if strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "serverbusy") ||
		strings.Contains(errStr, "serviceunavailable") ||
		strings.Contains(errStr, "internalerror") {
		return ErrorTypeRetryable
	}

	return ErrorTypeFatal
}

// CalculateBackoff returns exponential backoff duration with full jitter
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}

	return time.Duration(rand.Int63n(int64(base) + 1))
}

// ExecuteWithRetry runs an operation, retrying network and retryable errors
// with backoff. Credential and fatal errors return immediately; so does
// context cancellation, including while waiting between attempts.
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType != ErrorTypeNetwork && errType != ErrorTypeRetryable {
			return err
		}
		if attempt == config.MaxRetries-1 {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, errType)
		}

		timer := time.NewTimer(CalculateBackoff(attempt+1, config.InitialDelay, config.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
