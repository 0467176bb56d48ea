// Package validation checks names and relative paths before they are
// sent to the file service.
package validation

import (
	"fmt"
	"strings"
)

// ValidateName checks a single entry name, as used by rename, mkdir and
// touch. Names cannot be empty, "." or "..", and cannot contain a slash
// or a NUL byte.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("name cannot be %q", name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("name cannot contain '/': %s", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name contains a NUL byte: %q", name)
	}
	return nil
}

// ValidateRelativePath checks a slash-separated path that will be joined
// under an upload directory. Every segment must be a valid name, so the
// path can never resolve outside the directory it is joined to.
func ValidateRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("path must be relative: %s", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if err := ValidateName(seg); err != nil {
			return fmt.Errorf("invalid path %s: %w", p, err)
		}
	}
	return nil
}
