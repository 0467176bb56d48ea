package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rescale/filez/internal/http"
)

// Supported URI schemes for remote drop sources.
const (
	SchemeS3    = "s3"
	SchemeAzure = "azure"
)

// Location identifies an object or prefix in a bucket or container.
type Location struct {
	Scheme string
	Bucket string // S3 bucket or Azure container
	Key    string // Object key or prefix, without a leading slash
}

// IsDir reports whether the location names a prefix rather than one object.
func (l Location) IsDir() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

// Name returns the last path element, or the bucket for the bucket root.
func (l Location) Name() string {
	k := strings.TrimSuffix(l.Key, "/")
	if k == "" {
		return l.Bucket
	}
	if i := strings.LastIndexByte(k, '/'); i >= 0 {
		return k[i+1:]
	}
	return k
}

func (l Location) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsRemote reports whether arg names an object storage location.
func IsRemote(arg string) bool {
	return strings.HasPrefix(arg, SchemeS3+"://") || strings.HasPrefix(arg, SchemeAzure+"://")
}

// ParseLocation parses s3://bucket/key and azure://container/key.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", raw, err)
	}
	if u.Scheme != SchemeS3 && u.Scheme != SchemeAzure {
		return Location{}, fmt.Errorf("unsupported location scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("location %q has no bucket", raw)
	}
	return Location{
		Scheme: u.Scheme,
		Bucket: u.Host,
		Key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// statusError lets the retry classifier see the status of SDK errors.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() error   { return e.err }
func (e *statusError) HTTPStatus() int { return e.status }

// WithStatus attaches an HTTP status code to err.
func WithStatus(status int, err error) error {
	if err == nil || status == 0 {
		return err
	}
	return &statusError{status: status, err: err}
}

// Retry runs a listing or read call with the shared backoff policy.
// Errors exposing HTTPStatusCode (the AWS SDK response errors) are
// classified by status.
func Retry(ctx context.Context, what string, op func() error) error {
	cfg := http.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		log.Debug().Str("op", what).Int("attempt", attempt).Str("type", http.ErrorTypeName(errType)).Err(err).Msg("retrying")
	}
	return http.ExecuteWithRetry(ctx, cfg, func() error {
		err := op()
		var sc interface{ HTTPStatusCode() int }
		if errors.As(err, &sc) {
			return WithStatus(sc.HTTPStatusCode(), err)
		}
		return err
	})
}
