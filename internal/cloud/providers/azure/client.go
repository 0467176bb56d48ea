// Package azure exposes Azure blob prefixes as drop payloads for the upload queue.
// This file contains the Azure client factory.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/filez/internal/cloud"
	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/http"
)

// envSASToken supplies the SAS token when the configured account URL has none.
const envSASToken = "AZURE_STORAGE_SAS_TOKEN"

// ErrBlobNotFound is returned by Container.Size for a missing blob.
var ErrBlobNotFound = errors.New("blob not found")

// Container is the subset of container operations the source uses.
type Container interface {
	NewListBlobsHierarchyPager(delimiter string, o *container.ListBlobsHierarchyOptions) *runtime.Pager[container.ListBlobsHierarchyResponse]
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	Size(ctx context.Context, name string) (int64, error)
}

// buildSASURL joins the account URL with a SAS token. A token already
// present in accountURL wins over sasToken.
func buildSASURL(accountURL, sasToken string) (string, error) {
	if accountURL == "" {
		return "", fmt.Errorf("azure account URL is not configured (set azure_account_url)")
	}
	if strings.Contains(accountURL, "?") || sasToken == "" {
		return accountURL, nil
	}
	sep := "?"
	if !strings.HasSuffix(accountURL, "/") {
		sep = "/?"
	}
	return accountURL + sep + strings.TrimPrefix(sasToken, "?"), nil
}

// NewContainerClient creates a client for one container of the configured
// account, sharing the proxy-aware transfer transport.
func NewContainerClient(cfg *config.Config, containerName string) (Container, error) {
	sasURL, err := buildSASURL(cfg.AzureAccountURL, os.Getenv(envSASToken))
	if err != nil {
		return nil, err
	}
	if _, err := azblob.ParseURL(sasURL); err != nil {
		return nil, fmt.Errorf("invalid azure account URL: %w", err)
	}

	httpClient, err := http.CreateTransferClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client, err := azblob.NewClientWithNoCredential(sasURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &containerClient{client: client.ServiceClient().NewContainerClient(containerName)}, nil
}

type containerClient struct {
	client *container.Client
}

func (c *containerClient) NewListBlobsHierarchyPager(delimiter string, o *container.ListBlobsHierarchyOptions) *runtime.Pager[container.ListBlobsHierarchyResponse] {
	return c.client.NewListBlobsHierarchyPager(delimiter, o)
}

func (c *containerClient) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.client.NewBlobClient(name).DownloadStream(ctx, nil)
	if err != nil {
		return nil, withStatus(err)
	}
	return resp.Body, nil
}

func (c *containerClient) Size(ctx context.Context, name string) (int64, error) {
	props, err := c.client.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return 0, ErrBlobNotFound
		}
		return 0, withStatus(err)
	}
	if props.ContentLength == nil {
		return -1, nil
	}
	return *props.ContentLength, nil
}

// withStatus exposes the response status of an Azure error to the retry classifier.
func withStatus(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return cloud.WithStatus(respErr.StatusCode, err)
	}
	return err
}
