// Package localfs exposes local files and directories as drop entries for
// the upload queue.
package localfs

// Options configures how local paths are expanded into entries.
type Options struct {
	// IncludeHidden includes hidden files and directories (starting with .).
	// Default is false: hidden children of a dropped directory are skipped.
	// A hidden path named explicitly is always included.
	IncludeHidden bool

	// FollowSymlinks descends into symlinked directories.
	// Default is false, which avoids walking link cycles.
	FollowSymlinks bool
}
