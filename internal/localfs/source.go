package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/transfer"
)

// Entry returns the drop entry for a local path.
func Entry(path string, opts Options) (transfer.Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return newEntry(path, info, opts), nil
}

// Entries resolves every path. The first path that cannot be stated fails
// the whole call.
func Entries(paths []string, opts Options) ([]transfer.Entry, error) {
	entries := make([]transfer.Entry, 0, len(paths))
	for _, p := range paths {
		e, err := Entry(p, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ErrSymlinkCycle is recorded for a followed link that leads back to one
// of the directories it sits in.
var ErrSymlinkCycle = errors.New("symlink points back to an enclosing directory")

func newEntry(path string, info fs.FileInfo, opts Options) transfer.Entry {
	if info.IsDir() {
		return &dirEntry{path: path, opts: opts, info: info}
	}
	return &fileEntry{path: path}
}

type fileEntry struct {
	path string
}

func (f *fileEntry) Name() string { return filepath.Base(f.path) }

// Blob stats the file again so the size reflects the moment of resolution.
func (f *fileEntry) Blob(ctx context.Context) (transfer.Blob, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", f.path)
	}
	return &fileBlob{path: f.path, size: info.Size()}, nil
}

type fileBlob struct {
	path string
	size int64
}

func (b *fileBlob) Name() string { return filepath.Base(b.path) }
func (b *fileBlob) Size() int64  { return b.size }

func (b *fileBlob) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(b.path)
}

type dirEntry struct {
	path   string
	opts   Options
	info   fs.FileInfo // identity for cycle checks; nil if it could not be read
	parent *dirEntry
}

// encloses reports whether info is d or one of its ancestors.
func (d *dirEntry) encloses(info fs.FileInfo) bool {
	for a := d; a != nil; a = a.parent {
		if a.info != nil && os.SameFile(a.info, info) {
			return true
		}
	}
	return false
}

func (d *dirEntry) Name() string { return filepath.Base(d.path) }

func (d *dirEntry) Reader() transfer.DirectoryReader {
	return &dirReader{dir: d}
}

// dirReader reads the directory in pages of DirectoryPageSize.
type dirReader struct {
	dir  *dirEntry
	f    *os.File
	done bool
}

func (r *dirReader) ReadEntries(ctx context.Context) ([]transfer.Entry, error) {
	if r.done {
		return nil, nil
	}
	if r.f == nil {
		f, err := os.Open(r.dir.path)
		if err != nil {
			r.done = true
			return nil, err
		}
		r.f = f
	}

	for {
		if err := ctx.Err(); err != nil {
			r.close()
			return nil, err
		}

		page, err := r.f.ReadDir(constants.DirectoryPageSize)
		if errors.Is(err, io.EOF) || (err == nil && len(page) == 0) {
			r.close()
			return nil, nil
		}
		if err != nil {
			r.close()
			return nil, err
		}

		entries := make([]transfer.Entry, 0, len(page))
		for _, de := range page {
			if !r.dir.opts.IncludeHidden && IsHiddenName(de.Name()) {
				continue
			}
			if e := r.child(de); e != nil {
				entries = append(entries, e)
			}
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
}

func (r *dirReader) child(de fs.DirEntry) transfer.Entry {
	p := filepath.Join(r.dir.path, de.Name())

	if de.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(p)
		if err != nil {
			// Dangling link: surface it so the flattener can record it.
			return &fileEntry{path: p}
		}
		if !info.IsDir() {
			return &fileEntry{path: p}
		}
		if !r.dir.opts.FollowSymlinks {
			return nil
		}
		if r.dir.encloses(info) {
			return &cycleEntry{path: p}
		}
		return &dirEntry{path: p, opts: r.dir.opts, info: info, parent: r.dir}
	}

	if de.IsDir() {
		info, err := de.Info()
		if err != nil {
			return &dirEntry{path: p, opts: r.dir.opts, parent: r.dir}
		}
		// Below a followed link, a plain directory can be an ancestor too.
		if r.dir.encloses(info) {
			return &cycleEntry{path: p}
		}
		return &dirEntry{path: p, opts: r.dir.opts, info: info, parent: r.dir}
	}
	return &fileEntry{path: p}
}

// cycleEntry stands in for a symlinked directory already being walked.
// Reading it fails, so the flattener lists it as omitted.
type cycleEntry struct {
	path string
}

func (c *cycleEntry) Name() string { return filepath.Base(c.path) }

func (c *cycleEntry) Reader() transfer.DirectoryReader { return c }

func (c *cycleEntry) ReadEntries(context.Context) ([]transfer.Entry, error) {
	return nil, fmt.Errorf("%s: %w", c.path, ErrSymlinkCycle)
}

func (r *dirReader) close() {
	r.done = true
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
}
