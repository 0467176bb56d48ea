package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rescale/filez/internal/cloud"
	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/transfer"
)

// Source turns bucket prefixes into transfer entries. Directory levels are
// listed with a "/" delimiter, one page per ReadEntries call.
type Source struct {
	client API
	bucket string
}

// NewSource returns a source reading bucket through client.
func NewSource(client API, bucket string) *Source {
	return &Source{client: client, bucket: bucket}
}

// Entry resolves key to a file or directory entry. A key without a
// trailing slash is looked up as an object first and falls back to a prefix.
func (s *Source) Entry(ctx context.Context, loc cloud.Location) (transfer.Entry, error) {
	if loc.IsDir() {
		return s.dir(loc.Name(), loc.Key), nil
	}

	var head *s3.HeadObjectOutput
	err := cloud.Retry(ctx, "s3 head "+loc.Key, func() error {
		var err error
		head, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(loc.Key),
		})
		return err
	})
	if err == nil {
		return &fileEntry{blob: &objectBlob{src: s, key: loc.Key, size: aws.ToInt64(head.ContentLength)}}, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
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
	return &dirReader{
		dir: d,
		pager: s3.NewListObjectsV2Paginator(d.src.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(d.src.bucket),
			Prefix:    aws.String(d.prefix),
			Delimiter: aws.String("/"),
			MaxKeys:   aws.Int32(constants.DirectoryPageSize),
		}),
	}
}

type dirReader struct {
	dir   *dirEntry
	pager *s3.ListObjectsV2Paginator
}

func (r *dirReader) ReadEntries(ctx context.Context) ([]transfer.Entry, error) {
	for r.pager.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := cloud.Retry(ctx, "s3 list "+r.dir.prefix, func() error {
			var err error
			page, err = r.pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", r.dir.src.bucket, r.dir.prefix, err)
		}

		entries := make([]transfer.Entry, 0, len(page.CommonPrefixes)+len(page.Contents))
		for _, cp := range page.CommonPrefixes {
			p := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(p, r.dir.prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, r.dir.src.dir(name, p))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, r.dir.prefix)
			// Zero-byte "folder" placeholders
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			entries = append(entries, &fileEntry{blob: &objectBlob{src: r.dir.src, key: key, size: aws.ToInt64(obj.Size)}})
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, nil
}

type fileEntry struct {
	blob *objectBlob
}

func (f *fileEntry) Name() string { return f.blob.Name() }

func (f *fileEntry) Blob(ctx context.Context) (transfer.Blob, error) {
	return f.blob, nil
}

type objectBlob struct {
	src  *Source
	key  string
	size int64
}

func (b *objectBlob) Name() string {
	if i := strings.LastIndexByte(b.key, '/'); i >= 0 {
		return b.key[i+1:]
	}
	return b.key
}

func (b *objectBlob) Size() int64 { return b.size }

func (b *objectBlob) Open(ctx context.Context) (io.ReadCloser, error) {
	var out *s3.GetObjectOutput
	err := cloud.Retry(ctx, "s3 get "+b.key, func() error {
		var err error
		out, err = b.src.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.src.bucket),
			Key:    aws.String(b.key),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", b.src.bucket, b.key, err)
	}
	return out.Body, nil
}
