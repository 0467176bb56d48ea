package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/rescale/filez/internal/models"
)

// TransferAction is the POST action used to paste a resource.
type TransferAction string

const (
	ActionCopy TransferAction = "copy"
	ActionMove TransferAction = "move"
)

func (c *Client) postForm(ctx context.Context, u *url.URL, form url.Values) (*nethttp.Response, error) {
	req, err := c.newRequest(ctx, nethttp.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(c.writeClient, req)
}

// Rename gives the resource at p a new name within its directory.
func (c *Client) Rename(ctx context.Context, p, newName string) error {
	if newName == "" || strings.Contains(newName, "/") {
		return fmt.Errorf("invalid new name %q", newName)
	}
	resp, err := c.postForm(ctx, c.URL(p, false), url.Values{
		"_action": {"rename"},
		"newName": {newName},
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Zip archives the named entries of dir into a new zip file inside dir.
func (c *Client) Zip(ctx context.Context, dir string, names []string) (*models.FileResource, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("nothing to zip")
	}
	resp, err := c.postForm(ctx, c.URL(dir, true), url.Values{
		"_action": {"zip"},
		"file":    names,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f models.FileResource
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode zip response: %w", err)
	}
	return &f, nil
}

// Unzip extracts the archive at p next to it and returns the extracted entries.
func (c *Client) Unzip(ctx context.Context, p string) ([]models.FileResource, error) {
	resp, err := c.postForm(ctx, c.URL(p, false), url.Values{"_action": {"unzip"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []models.FileResource
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode unzip response: %w", err)
	}
	return files, nil
}

// ZipDownload streams a zip of the named entries of dir into w.
func (c *Client) ZipDownload(ctx context.Context, dir string, names []string, w io.Writer) (int64, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("select at least one file to zip-download")
	}
	u := c.URL(dir, true)
	u.RawQuery = url.Values{"_action": {"zip_download"}, "file": names}.Encode()

	req, err := c.newRequest(ctx, nethttp.MethodGet, u, nil)
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
		return n, fmt.Errorf("zip download interrupted: %w", err)
	}
	return n, nil
}

// Transfer copies or moves the resource at source into the directory destDir
// and returns the description of the new resource.
func (c *Client) Transfer(ctx context.Context, action TransferAction, source, destDir string) (*models.FileResource, error) {
	switch action {
	case ActionCopy, ActionMove:
	default:
		return nil, fmt.Errorf("unsupported transfer action %q", action)
	}

	resp, err := c.postForm(ctx, c.URL(destDir, true), url.Values{
		"_action": {string(action)},
		"source":  {c.ServerPath(source, false)},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f models.FileResource
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return &f, nil
}

// Copy copies source into destDir.
func (c *Client) Copy(ctx context.Context, source, destDir string) (*models.FileResource, error) {
	return c.Transfer(ctx, ActionCopy, source, destDir)
}

// Move moves source into destDir.
func (c *Client) Move(ctx context.Context, source, destDir string) (*models.FileResource, error) {
	return c.Transfer(ctx, ActionMove, source, destDir)
}
