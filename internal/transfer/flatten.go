package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rescale/filez/internal/constants"
)

// Blob is the content of one file to upload.
type Blob interface {
	Name() string
	Size() int64 // -1 when unknown
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Entry is one node of a dropped tree. Concrete entries implement either
// FileEntry or DirectoryEntry.
type Entry interface {
	Name() string
}

// FileEntry resolves asynchronously to its content.
type FileEntry interface {
	Entry
	Blob(ctx context.Context) (Blob, error)
}

// DirectoryEntry exposes a paginated reader over its children.
type DirectoryEntry interface {
	Entry
	Reader() DirectoryReader
}

// DirectoryReader returns the next page of children on every call. An empty
// page means the directory is exhausted.
type DirectoryReader interface {
	ReadEntries(ctx context.Context) ([]Entry, error)
}

// Item is a flattened leaf: the destination path and its content.
type Item struct {
	Path string
	Blob Blob
}

// Omission records an entry that could not be resolved.
type Omission struct {
	Path string
	Err  error
}

// FlattenReport summarises a flatten run.
type FlattenReport struct {
	Files   int
	Bytes   int64
	Omitted []Omission
}

// FlattenFiles turns a flat list of blobs into items, preserving order.
func FlattenFiles(blobs []Blob) []Item {
	items := make([]Item, 0, len(blobs))
	for _, b := range blobs {
		items = append(items, Item{Path: b.Name(), Blob: b})
	}
	return items
}

// Flatten walks entries and calls sink once per leaf as soon as it resolves.
// Directories are read concurrently, so the order of leaves from different
// directories is not defined. Entries that fail to resolve are skipped and
// listed in the report. Flatten returns an error only if ctx is cancelled.
func Flatten(ctx context.Context, entries []Entry, sink func(Item)) (*FlattenReport, error) {
	return flatten(ctx, entries, func(_ int, it Item) {
		if sink != nil {
			sink(it)
		}
	})
}

// FlattenAll collects the leaves of entries into a slice in drop order:
// the leaves of entries[0] come first, then those of entries[1], and so on.
// Leaves below one dropped directory are ordered by path.
func FlattenAll(ctx context.Context, entries []Entry) ([]Item, *FlattenReport, error) {
	byRoot := make([][]Item, len(entries))
	report, err := flatten(ctx, entries, func(root int, it Item) {
		byRoot[root] = append(byRoot[root], it)
	})

	var items []Item
	for _, group := range byRoot {
		items = append(items, Sorted(group)...)
	}
	return items, report, err
}

func flatten(ctx context.Context, entries []Entry, sink func(root int, it Item)) (*FlattenReport, error) {
	f := &flattener{
		sink:   sink,
		sem:    semaphore.NewWeighted(constants.MaxFlattenConcurrency),
		report: &FlattenReport{},
	}
	for i, e := range entries {
		f.visit(ctx, i, "", e)
	}
	if err := f.g.Wait(); err != nil {
		return f.report, err
	}
	return f.report, nil
}

// Sorted returns a copy of items ordered by path.
func Sorted(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type flattener struct {
	g      errgroup.Group
	sem    *semaphore.Weighted
	mu     sync.Mutex
	sink   func(root int, it Item)
	report *FlattenReport
}

// visit never blocks: the only bounded resource is the semaphore, taken
// around each read so nested directories cannot starve their parents.
func (f *flattener) visit(ctx context.Context, root int, prefix string, e Entry) {
	p := prefix + e.Name()

	switch entry := e.(type) {
	case FileEntry:
		f.g.Go(func() error {
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			blob, err := entry.Blob(ctx)
			f.sem.Release(1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.omit(p, err)
				return nil
			}
			f.emit(root, Item{Path: p, Blob: blob})
			return nil
		})

	case DirectoryEntry:
		f.g.Go(func() error {
			reader := entry.Reader()
			for {
				if err := f.sem.Acquire(ctx, 1); err != nil {
					return err
				}
				page, err := reader.ReadEntries(ctx)
				f.sem.Release(1)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					f.omit(p+"/", err)
					return nil
				}
				if len(page) == 0 {
					return nil
				}
				for _, child := range page {
					f.visit(ctx, root, p+"/", child)
				}
			}
		})

	default:
		f.omit(p, fmt.Errorf("unsupported entry type %T", e))
	}
}

func (f *flattener) emit(root int, it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report.Files++
	if size := it.Blob.Size(); size > 0 {
		f.report.Bytes += size
	}
	f.sink(root, it)
}

func (f *flattener) omit(p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report.Omitted = append(f.report.Omitted, Omission{Path: p, Err: err})
}
