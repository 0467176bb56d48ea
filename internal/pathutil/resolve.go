// Package pathutil resolves local paths given on the command line.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveLocal expands a leading ~ and returns an absolute path with
// symlinks in its existing prefix resolved. Components that do not exist
// yet, such as a download target, are appended unchanged.
func ResolveLocal(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[1:])
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	var missing []string
	for dir := abs; ; {
		if _, err := os.Lstat(dir); err == nil {
			resolved, err := filepath.EvalSymlinks(dir)
			if err != nil {
				resolved = dir
			}
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		missing = append(missing, filepath.Base(dir))
		dir = parent
	}
}
