// Package diskspace checks that a local download target has room for the
// bytes about to be written.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rescale/filez/internal/cloud"
)

// SafetyMargin is applied to every requested size.
const SafetyMargin = 1.1

// InsufficientSpaceError reports a target filesystem that is too full.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, cloud.FormatBytes(e.RequiredBytes), cloud.FormatBytes(e.AvailableBytes))
}

// Check returns an *InsufficientSpaceError when the filesystem holding
// targetPath cannot take size bytes plus the safety margin. Unknown sizes
// and filesystems that cannot be queried pass.
func Check(targetPath string, size int64) error {
	if size <= 0 {
		return nil
	}
	available, err := Available(filepath.Dir(targetPath))
	if err != nil {
		return nil
	}

	required := int64(float64(size) * SafetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// IsInsufficientSpace reports whether err is or wraps an *InsufficientSpaceError.
func IsInsufficientSpace(err error) bool {
	var ise *InsufficientSpaceError
	return errors.As(err, &ise)
}
