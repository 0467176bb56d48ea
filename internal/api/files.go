package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"

	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/models"
)

// Document is a file opened for editing.
type Document struct {
	Path        string
	Content     []byte
	ContentType string
	Version     Version
}

// List returns the listing of the directory at dir.
func (c *Client) List(ctx context.Context, dir string) (*models.Listing, error) {
	req, err := c.newRequest(ctx, nethttp.MethodGet, c.URL(dir, true), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(c.readClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing models.Listing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing of %s: %w", dir, err)
	}
	return &listing, nil
}

// Open reads the file at p for editing and captures its version.
// Files larger than MaxEditableSize are refused with ErrTooLarge.
func (c *Client) Open(ctx context.Context, p string) (*Document, error) {
	req, err := c.newRequest(ctx, nethttp.MethodGet, c.URL(p, false), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(c.readClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > constants.MaxEditableSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", p, resp.ContentLength, ErrTooLarge)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxEditableSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if len(content) > constants.MaxEditableSize {
		return nil, fmt.Errorf("%s: %w", p, ErrTooLarge)
	}

	return &Document{
		Path:        CleanPath(p),
		Content:     content,
		ContentType: resp.Header.Get("Content-Type"),
		Version:     VersionFromHeader(resp.Header),
	}, nil
}

// Download streams the file at p into w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, p string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, nethttp.MethodGet, c.URL(p, false), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.do(c.transferClient, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download %s: %w", p, err)
	}
	return n, nil
}

// Save replaces the content of the file at p, conditional on v still
// being the server's current version. A concurrent change makes the
// server answer 412, returned as a *StatusError matching ErrConflict.
func (c *Client) Save(ctx context.Context, p string, content []byte, v Version) (*models.FileResource, error) {
	if v.IsZero() {
		return nil, ErrMissingVersion
	}

	req, err := c.newRequest(ctx, nethttp.MethodPut, c.URL(p, false), bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", constants.TextMediaType)
	req.Header.Set("Accept", "application/json")
	v.Apply(req.Header)

	return c.doFileResource(c.writeClient, req)
}

// CreateDirectory creates the directory at p. An existing directory is not an error.
func (c *Client) CreateDirectory(ctx context.Context, p string) (*models.FileResource, error) {
	return c.create(ctx, p, constants.DirectoryMediaType)
}

// CreateFile creates an empty file at p.
func (c *Client) CreateFile(ctx context.Context, p string) (*models.FileResource, error) {
	return c.create(ctx, p, constants.TextMediaType)
}

func (c *Client) create(ctx context.Context, p, mediaType string) (*models.FileResource, error) {
	req, err := c.newRequest(ctx, nethttp.MethodPut, c.URL(p, false), nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Accept", "application/json")

	return c.doFileResource(c.writeClient, req)
}

// Upload sends body as the multipart field "file" of a PUT to p.
// The request is bound to ctx: cancelling it aborts the transfer.
func (c *Client) Upload(ctx context.Context, p, name string, body io.Reader) (*models.FileResource, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(constants.UploadFormField, name)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, nethttp.MethodPut, c.URL(p, false), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	return c.doFileResource(c.transferClient, req)
}

// Delete removes the resource at p.
func (c *Client) Delete(ctx context.Context, p string) error {
	req, err := c.newRequest(ctx, nethttp.MethodDelete, c.URL(p, false), nil)
	if err != nil {
		return err
	}

	resp, err := c.do(c.writeClient, req)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) doFileResource(hc *nethttp.Client, req *nethttp.Request) (*models.FileResource, error) {
	resp, err := c.do(hc, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f models.FileResource
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return &f, nil
}
