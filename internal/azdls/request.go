package azdls

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/bleepstore/azdls/internal/buffer"
	"github.com/bleepstore/azdls/internal/uid"
)

// OpWrite carries the per-write options sent with the create request.
type OpWrite struct {
	ContentType        string
	CacheControl       string
	ContentDisposition string
	// Metadata is stored as user-defined properties on the file.
	Metadata map[string]string
}

// CreateRequest builds an unsigned request creating an empty resource of the
// given kind ("file" or "directory") at path.
func (c *Core) CreateRequest(ctx context.Context, path, resource string, op OpWrite) (*http.Request, error) {
	u := c.fileURL(path) + "?resource=" + resource
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	c.commonHeaders(req)

	if op.ContentType != "" {
		req.Header.Set("x-ms-content-type", op.ContentType)
	}
	if op.CacheControl != "" {
		req.Header.Set("x-ms-cache-control", op.CacheControl)
	}
	if op.ContentDisposition != "" {
		req.Header.Set("x-ms-content-disposition", op.ContentDisposition)
	}
	if len(op.Metadata) > 0 {
		req.Header.Set("x-ms-properties", encodeProperties(op.Metadata))
	}
	return req, nil
}

// UpdateRequest builds an unsigned request that appends body at position 0
// and flushes it in the same call. size is sent as Content-Length.
func (c *Core) UpdateRequest(ctx context.Context, path string, size int64, body buffer.ChunkedBytes) (*http.Request, error) {
	u := c.fileURL(path) + "?action=append&close=true&flush=true&position=0"

	var rd io.Reader = http.NoBody
	if size > 0 {
		rd = body.Reader()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, rd)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	if size > 0 {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(body.Reader()), nil
		}
	}
	c.commonHeaders(req)
	return req, nil
}

// commonHeaders sets the headers every request carries.
func (c *Core) commonHeaders(req *http.Request) {
	req.Header.Set("x-ms-version", c.apiVersion)
	req.Header.Set("x-ms-client-request-id", uid.New())
}

// encodeProperties renders user metadata in the x-ms-properties format:
// comma-separated name=base64(value) pairs, sorted by name.
func encodeProperties(meta map[string]string) string {
	names := make([]string, 0, len(meta))
	for name := range meta {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + base64.StdEncoding.EncodeToString([]byte(meta[name]))
	}
	return strings.Join(pairs, ",")
}
