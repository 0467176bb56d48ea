// Package api provides the HTTP client for the file service and the
// classifier that turns its status codes into user-facing errors.
package api

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

// Sentinel errors matched by *StatusError via errors.Is.
var (
	ErrRefused        = errors.New("operation refused")
	ErrSessionExpired = errors.New("session expired")
	ErrForbidden      = errors.New("operation not allowed")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("concurrent modification detected")
	ErrQuotaExceeded  = errors.New("file usage quota exceeded")
	ErrServer         = errors.New("server error")
)

// Client-side errors.
var (
	// ErrEmptyBaseURL is returned by NewClient when no service URL is configured.
	ErrEmptyBaseURL = errors.New("base URL is empty")

	// ErrMissingVersion is returned when a conditional write has no validator to send.
	ErrMissingVersion = errors.New("no version validator for conditional write")

	// ErrTooLarge is returned when a file is too big to open for editing.
	ErrTooLarge = errors.New("file too large to edit")
)

// Kind classifies a failed request by its status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindClientRefused
	KindSessionExpired
	KindForbidden
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindServerError
)

// KindOf maps an HTTP status code to a Kind.
func KindOf(status int) Kind {
	switch status {
	case nethttp.StatusBadRequest:
		return KindClientRefused
	case nethttp.StatusUnauthorized:
		return KindSessionExpired
	case nethttp.StatusForbidden:
		return KindForbidden
	case nethttp.StatusNotFound:
		return KindNotFound
	case nethttp.StatusPreconditionFailed:
		return KindConflict
	case nethttp.StatusRequestEntityTooLarge:
		return KindQuotaExceeded
	case nethttp.StatusInternalServerError:
		return KindServerError
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindClientRefused:
		return "refused"
	case KindSessionExpired:
		return "session-expired"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota-exceeded"
	case KindServerError:
		return "server-error"
	default:
		return "unknown"
	}
}

// Message returns the text shown to the user for this kind of failure.
func (k Kind) Message() string {
	switch k {
	case KindClientRefused:
		return "Operation refused."
	case KindSessionExpired:
		return "It appears that your session has timed out. Sign in again and retry."
	case KindForbidden:
		return "Operation not allowed."
	case KindNotFound:
		return "The file/directory you requested does not exist. You may try refreshing the listing."
	case KindConflict:
		return "Concurrent modification detected. Reload and try again."
	case KindQuotaExceeded:
		return "Exceeded file usage quota. Remove some files and try again."
	case KindServerError:
		return "Operation failed. We recommend that you reload and try again."
	default:
		return "Operation failed for an unknown reason. You may reload and try again."
	}
}

// OffersReload reports whether the user should be offered a full reload.
func (k Kind) OffersReload() bool {
	return k == KindSessionExpired || k == KindServerError
}

// OffersRefresh reports whether the current listing is likely stale.
func (k Kind) OffersRefresh() bool {
	return k == KindNotFound
}

func (k Kind) sentinel() error {
	switch k {
	case KindClientRefused:
		return ErrRefused
	case KindSessionExpired:
		return ErrSessionExpired
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindServerError:
		return ErrServer
	default:
		return nil
	}
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string // first bytes of the response body, for logs
	Kind       Kind
}

func newStatusError(method, path string, resp *nethttp.Response, body []byte) *StatusError {
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
		Kind:       KindOf(resp.StatusCode),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Is lets errors.Is match the sentinel for the error's Kind.
func (e *StatusError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// Classify returns the Kind of err. Errors that did not come from a
// response are KindUnknown.
func Classify(err error) Kind {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// UserMessage returns the message to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "Operation aborted."
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind.Message()
	}
	return KindUnknown.Message()
}

// IsTypeClash reports whether the server refused a create because a file
// and a directory would share a name.
func IsTypeClash(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == nethttp.StatusConflict
}
