package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// TokenSigner authenticates requests with an Azure AD bearer token. Token
// caching and refresh are left to the credential.
type TokenSigner struct {
	cred   azcore.TokenCredential
	scopes []string
	now    func() time.Time
}

// NewTokenSigner creates a signer requesting tokens for the Azure Storage
// scope from cred.
func NewTokenSigner(cred azcore.TokenCredential) *TokenSigner {
	return &TokenSigner{cred: cred, scopes: []string{storageScope}, now: time.Now}
}

// Sign stamps x-ms-date and sets a Bearer Authorization header.
func (s *TokenSigner) Sign(ctx context.Context, req *http.Request) error {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: s.scopes})
	if err != nil {
		return fmt.Errorf("acquiring storage token: %w", err)
	}
	stampDate(req, s.now())
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	return nil
}
