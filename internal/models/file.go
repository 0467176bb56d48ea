package models

import (
	"net/http"
	"time"

	"github.com/rescale/filez/internal/constants"
)

// FileResource is the server's description of a file or directory
type FileResource struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	// LastModified is milliseconds since the Unix epoch
	LastModified int64 `json:"lastModified"`
	// ETag is only reported for regular files
	ETag string `json:"eTag,omitempty"`
}

// IsDirectory reports whether the resource is a directory
func (f *FileResource) IsDirectory() bool {
	return f.Type == constants.DirectoryMediaType
}

// ModTime returns LastModified as a time.Time
func (f *FileResource) ModTime() time.Time {
	return time.UnixMilli(f.LastModified).UTC()
}

// HTTPLastModified formats the modification time the way the server
// expects it in If-Unmodified-Since. It is empty when the server sent no
// modification time.
func (f *FileResource) HTTPLastModified() string {
	if f.LastModified == 0 {
		return ""
	}
	return f.ModTime().Format(http.TimeFormat)
}

// Listing is the decoded response of a directory GET
type Listing struct {
	URI    string         `json:"uri"`
	Parent *string        `json:"parent"`
	Files  []FileResource `json:"files"`
	Readme string         `json:"readme,omitempty"`
	// Size is the aggregate byte count of the directory
	Size int64 `json:"size"`
	// Quota is zero when unlimited
	Quota int64 `json:"quota"`
}

// HasParent reports whether the listing is below the root
func (l *Listing) HasParent() bool {
	return l.Parent != nil && *l.Parent != ""
}

// Directories returns the directory entries of the listing
func (l *Listing) Directories() []FileResource {
	var dirs []FileResource
	for _, e := range l.Files {
		if e.IsDirectory() {
			dirs = append(dirs, e)
		}
	}
	return dirs
}

// Regular returns the non-directory entries of the listing
func (l *Listing) Regular() []FileResource {
	var files []FileResource
	for _, e := range l.Files {
		if !e.IsDirectory() {
			files = append(files, e)
		}
	}
	return files
}
