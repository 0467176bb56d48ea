package api

import (
	nethttp "net/http"

	"github.com/rescale/filez/internal/models"
)

// Version is the composite validator the server issues for a file: its
// entity tag and its modification time, both forwarded verbatim on
// conditional writes. The client never compares or parses the parts.
type Version struct {
	etag         string
	lastModified string
}

// NewVersion builds a Version from raw header values.
func NewVersion(etag, lastModified string) Version {
	return Version{etag: etag, lastModified: lastModified}
}

// VersionFromHeader captures the validators of a response.
func VersionFromHeader(h nethttp.Header) Version {
	return NewVersion(h.Get("ETag"), h.Get("Last-Modified"))
}

// VersionOf derives the validators from a resource description returned
// by a write, so a following write can be made without reopening the file.
func VersionOf(f *models.FileResource) Version {
	if f == nil {
		return Version{}
	}
	return NewVersion(f.ETag, f.HTTPLastModified())
}

// IsZero reports whether the version carries no validator at all.
func (v Version) IsZero() bool {
	return v.etag == "" && v.lastModified == ""
}

// Apply sets the conditional request headers.
func (v Version) Apply(h nethttp.Header) {
	if v.etag != "" {
		h.Set("If-Match", v.etag)
	}
	if v.lastModified != "" {
		h.Set("If-Unmodified-Since", v.lastModified)
	}
}

// String is for logs only.
func (v Version) String() string {
	return v.etag + "@" + v.lastModified
}
