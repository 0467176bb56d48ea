package localfs

import (
	"path/filepath"
	"strings"
)

// IsHidden reports whether the last element of path is a dotfile.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName reports whether a directory entry name is a dotfile. The
// "." and ".." pseudo-entries do not count.
func IsHiddenName(name string) bool {
	switch name {
	case ".", "..":
		return false
	}
	return strings.HasPrefix(name, ".")
}
