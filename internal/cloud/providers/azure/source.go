package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/filez/internal/cloud"
	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/transfer"
)

// Source turns container prefixes into transfer entries using the
// hierarchical listing with a "/" delimiter.
type Source struct {
	container Container
	name      string
}

// NewSource returns a source over c. name is only used in messages.
func NewSource(c Container, name string) *Source {
	return &Source{container: c, name: name}
}

// Entry resolves loc to a file or directory entry. A key without a
// trailing slash is looked up as a blob first and falls back to a prefix.
func (s *Source) Entry(ctx context.Context, loc cloud.Location) (transfer.Entry, error) {
	if loc.IsDir() {
		return s.dir(loc.Name(), loc.Key), nil
	}

	var size int64
	err := cloud.Retry(ctx, "azure stat "+loc.Key, func() error {
		var err error
		size, err = s.container.Size(ctx, loc.Key)
		return err
	})
	switch {
	case err == nil:
		return &fileEntry{blob: &blobRef{src: s, name: loc.Key, size: size}}, nil
	case errors.Is(err, ErrBlobNotFound):
		return s.dir(loc.Name(), loc.Key+"/"), nil
	}
	return nil, fmt.Errorf("failed to stat %s: %w", loc, err)
}

func (s *Source) dir(name, prefix string) *dirEntry {
	return &dirEntry{src: s, name: name, prefix: prefix}
}

type dirEntry struct {
	src    *Source
	name   string
	prefix string
}

func (d *dirEntry) Name() string { return d.name }

func (d *dirEntry) Reader() transfer.DirectoryReader {
	opts := &container.ListBlobsHierarchyOptions{
		MaxResults: to.Ptr(int32(constants.DirectoryPageSize)),
	}
	if d.prefix != "" {
		opts.Prefix = to.Ptr(d.prefix)
	}
	return &dirReader{dir: d, pager: d.src.container.NewListBlobsHierarchyPager("/", opts)}
}

type dirReader struct {
	dir   *dirEntry
	pager *runtime.Pager[container.ListBlobsHierarchyResponse]
}

func (r *dirReader) ReadEntries(ctx context.Context) ([]transfer.Entry, error) {
	for r.pager.More() {
		var page container.ListBlobsHierarchyResponse
		err := cloud.Retry(ctx, "azure list "+r.dir.prefix, func() error {
			var err error
			page, err = r.pager.NextPage(ctx)
			return withStatus(err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list azure://%s/%s: %w", r.dir.src.name, r.dir.prefix, err)
		}
		if page.Segment == nil {
			continue
		}

		entries := make([]transfer.Entry, 0, len(page.Segment.BlobPrefixes)+len(page.Segment.BlobItems))
		for _, bp := range page.Segment.BlobPrefixes {
			if bp == nil || bp.Name == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*bp.Name, r.dir.prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, r.dir.src.dir(name, *bp.Name))
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			rel := strings.TrimPrefix(*item.Name, r.dir.prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			size := int64(-1)
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			entries = append(entries, &fileEntry{blob: &blobRef{src: r.dir.src, name: *item.Name, size: size}})
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, nil
}

type fileEntry struct {
	blob *blobRef
}

func (f *fileEntry) Name() string { return f.blob.Name() }

func (f *fileEntry) Blob(ctx context.Context) (transfer.Blob, error) {
	return f.blob, nil
}

type blobRef struct {
	src  *Source
	name string
	size int64
}

func (b *blobRef) Name() string {
	if i := strings.LastIndexByte(b.name, '/'); i >= 0 {
		return b.name[i+1:]
	}
	return b.name
}

func (b *blobRef) Size() int64 { return b.size }

func (b *blobRef) Open(ctx context.Context) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := cloud.Retry(ctx, "azure download "+b.name, func() error {
		var err error
		body, err = b.src.container.Download(ctx, b.name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read azure://%s/%s: %w", b.src.name, b.name, err)
	}
	return body, nil
}
