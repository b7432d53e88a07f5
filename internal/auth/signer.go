// Package auth implements request signing for Azure Data Lake Storage Gen2:
// Shared Key, shared access signatures, and Azure AD bearer tokens.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Signer adds authentication to an outbound request in place. Implementations
// hold no per-request state and are safe for concurrent use.
type Signer interface {
	Sign(ctx context.Context, req *http.Request) error
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, req *http.Request) error

// Sign calls f(ctx, req).
func (f SignerFunc) Sign(ctx context.Context, req *http.Request) error {
	return f(ctx, req)
}

const (
	// headerDate is the request timestamp header all signers stamp.
	headerDate = "x-ms-date"

	// storageScope is the Azure AD scope for Azure Storage data-plane access.
	storageScope = "https://storage.azure.com/.default"
)

// stampDate sets x-ms-date to now in RFC 1123 GMT form.
func stampDate(req *http.Request, now time.Time) {
	req.Header.Set(headerDate, now.UTC().Format(http.TimeFormat))
}
