// Package azdls writes files to Azure Data Lake Storage Gen2 (hierarchical
// namespace) with the one-shot create-then-update protocol.
//
// A Core holds everything shared between writes: endpoint, filesystem, root,
// signer and HTTP client. It is immutable after construction, so a single
// *Core can back any number of concurrent Writers.
//
// Request layout:
//
//	create:  PUT   {endpoint}/{filesystem}/{root}{path}?resource=file
//	update:  PATCH {endpoint}/{filesystem}/{root}{path}?action=append&close=true&flush=true&position=0
package azdls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bleepstore/azdls/internal/auth"
	"github.com/bleepstore/azdls/internal/config"
)

// Core is the shared, read-only collaborator bundle used by Writers.
type Core struct {
	endpoint   string
	filesystem string
	root       string
	apiVersion string
	signer     auth.Signer
	client     *http.Client
}

// CoreOption is a functional option for configuring a Core.
type CoreOption func(*Core)

// WithHTTPClient overrides the HTTP client used to send requests.
func WithHTTPClient(h *http.Client) CoreOption {
	return func(c *Core) {
		if h != nil {
			c.client = h
		}
	}
}

// NewCore creates a Core for the configured filesystem, signing every request
// with signer.
func NewCore(cfg config.AzdlsConfig, signer auth.Signer, opts ...CoreOption) (*Core, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azdls: endpoint is required")
	}
	if cfg.Filesystem == "" {
		return nil, errors.New("azdls: filesystem is required")
	}
	if signer == nil {
		return nil, errors.New("azdls: signer is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("azdls: invalid endpoint: %w", err)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultAPIVersion
	}
	timeout := time.Duration(cfg.Timeout) * time.Second

	c := &Core{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		filesystem: cfg.Filesystem,
		root:       normalizeRoot(cfg.Root),
		apiVersion: apiVersion,
		signer:     signer,
		client:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the normalized root ("" or "dir/sub/").
func (c *Core) Root() string { return c.root }

// Filesystem returns the filesystem name.
func (c *Core) Filesystem() string { return c.filesystem }

// AbsPath resolves path against the root. The result has no leading slash.
func (c *Core) AbsPath(path string) string {
	return c.root + strings.TrimLeft(path, "/")
}

// Sign adds authentication to req in place.
func (c *Core) Sign(ctx context.Context, req *http.Request) error {
	return c.signer.Sign(ctx, req)
}

// Send executes req. The caller owns the response body.
func (c *Core) Send(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// fileURL returns the percent-encoded URL of path within the filesystem.
func (c *Core) fileURL(path string) string {
	return c.endpoint + "/" + c.filesystem + "/" + escapePath(c.AbsPath(path))
}

// normalizeRoot turns a configured root into "" or "a/b/".
func normalizeRoot(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// escapePath percent-encodes each segment of p, keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// consume drains and closes a response body so the connection can be reused.
func consume(resp *http.Response) error {
	_, err := io.Copy(io.Discard, resp.Body)
	if cerr := resp.Body.Close(); err == nil {
		err = cerr
	}
	return err
}
