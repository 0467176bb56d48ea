package api

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/http"
	"github.com/rescale/filez/internal/ratelimit"
	"github.com/rescale/filez/internal/version"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 4096

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	zlog zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.zlog.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.zlog.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.zlog.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the file service.
//
// Reads (listings, file contents) go through a retrying client. Writes are
// sent exactly once: a failed PUT, POST or DELETE is reported to the
// caller and never replayed.
type Client struct {
	readClient     *nethttp.Client
	writeClient    *nethttp.Client
	transferClient *nethttp.Client
	config         *config.Config
	base           *url.URL
	authHeader     string
	limiter        *ratelimit.RateLimiter
}

// NewClient creates a new API client
func NewClient(cfg *config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrEmptyBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	transferClient, err := http.CreateTransferClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure transfer client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = constants.RetryWaitMin
	retryClient.RetryWaitMax = constants.RetryWaitMax
	retryClient.Logger = &retryLogger{zlog: log.Logger.With().Str("component", "retry").Logger()}
	// Hand the last response back so its status can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	scheme := cfg.AuthScheme
	if scheme == "" {
		scheme = constants.DefaultAuthScheme
	}

	return &Client{
		readClient:     retryClient.StandardClient(),
		writeClient:    httpClient,
		transferClient: transferClient,
		config:         cfg,
		base:           base,
		authHeader:     scheme + " " + cfg.AuthToken,
		limiter:        ratelimit.NewRateLimiter(cfg.RequestsPerSecond, constants.DefaultBurst),
	}, nil
}

// GetConfig returns the configuration used by this API client
func (c *Client) GetConfig() *config.Config {
	return c.config
}

// CleanPath normalises a remote path to its absolute, slash-separated form.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// URL returns the absolute URL of the resource at p. Directory URLs end with a slash.
func (c *Client) URL(p string, dir bool) *url.URL {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + CleanPath(p)
	u.RawPath = ""
	u.RawQuery = ""
	if dir && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &u
}

// ServerPath returns the request path the server knows the resource by.
// Copy and move name their source this way.
func (c *Client) ServerPath(p string, dir bool) string {
	return c.URL(p, dir).Path
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

// do sends req through hc and converts any non-2xx response into a
// *StatusError. On success the caller owns resp.Body.
func (c *Client) do(hc *nethttp.Client, req *nethttp.Request) (*nethttp.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Err(err).Msg("request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := newStatusError(req.Method, req.URL.Path, resp, body)
		log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).
			Str("kind", se.Kind.String()).Msg("request refused")
		return nil, se
	}

	return resp, nil
}

// drain discards the rest of a response body so the connection can be reused.
func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
