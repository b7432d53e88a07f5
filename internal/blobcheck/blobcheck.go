// Package blobcheck confirms a completed write by reading the file's
// properties back through the Blob service endpoint of the same account.
package blobcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/bleepstore/azdls/internal/auth"
	"github.com/bleepstore/azdls/internal/config"
)

var (
	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("blobcheck: file not found")
	// ErrSizeMismatch is returned when the stored length differs from the
	// length written.
	ErrSizeMismatch = errors.New("blobcheck: size mismatch")
)

// BlobAPI is the subset of the Blob client used for verification. It allows
// mocking in tests.
type BlobAPI interface {
	// GetBlobProperties returns the content length of a blob.
	GetBlobProperties(ctx context.Context, containerName, blobName string) (int64, error)
}

// azblobClient wraps the official Azure SDK client to satisfy BlobAPI.
type azblobClient struct {
	client *azblob.Client
}

// NewClient creates a Blob client against the account's Blob endpoint using
// the same credentials type the writer signs with.
func NewClient(cfg config.AzdlsConfig) (BlobAPI, error) {
	serviceURL := cfg.BlobEndpoint() + "/"

	switch auth.ResolveType(cfg) {
	case config.CredentialsSharedKey:
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("creating Azure shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with shared key: %w", err)
		}
		return &azblobClient{client: client}, nil
	case config.CredentialsSAS:
		client, err := azblob.NewClientWithNoCredential(serviceURL+"?"+strings.TrimPrefix(cfg.SASToken, "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with SAS: %w", err)
		}
		return &azblobClient{client: client}, nil
	default:
		cred, err := auth.NewTokenCredential(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		client, err := azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client: %w", err)
		}
		return &azblobClient{client: client}, nil
	}
}

func (c *azblobClient) GetBlobProperties(ctx context.Context, containerName, blobName string) (int64, error) {
	resp, err := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if resp.ContentLength != nil {
		return *resp.ContentLength, nil
	}
	return 0, nil
}

// PathResolver maps a writer path to its blob name within the filesystem.
// *azdls.Core satisfies it.
type PathResolver interface {
	Filesystem() string
	AbsPath(path string) string
}

// Checker verifies written files.
type Checker struct {
	api      BlobAPI
	resolver PathResolver
}

// NewChecker returns a Checker reading through api. The filesystem is used as
// the container name.
func NewChecker(api BlobAPI, resolver PathResolver) *Checker {
	return &Checker{api: api, resolver: resolver}
}

// Verify checks that path exists and holds exactly want bytes.
func (c *Checker) Verify(ctx context.Context, path string, want int64) error {
	container := c.resolver.Filesystem()
	blob := c.resolver.AbsPath(path)

	got, err := c.api.GetBlobProperties(ctx, container, blob)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, container, blob)
		}
		return fmt.Errorf("reading properties of %s/%s: %w", container, blob, err)
	}
	if got != want {
		return fmt.Errorf("%w: %s/%s has %d bytes, wrote %d", ErrSizeMismatch, container, blob, got, want)
	}
	slog.Debug("blobcheck verified", "container", container, "blob", blob, "bytes", got)
	return nil
}
