package auth

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/bleepstore/azdls/internal/config"
)

// NewSigner selects a Signer from the azdls configuration. With no explicit
// credentials type it prefers the account key, then a SAS token, then the
// default Azure credential chain.
func NewSigner(cfg config.AzdlsConfig) (Signer, error) {
	switch ResolveType(cfg) {
	case config.CredentialsSharedKey:
		return NewSharedKeySigner(cfg.AccountName, cfg.AccountKey)
	case config.CredentialsSAS:
		return NewSASSigner(cfg.SASToken), nil
	default:
		cred, err := NewTokenCredential(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		return NewTokenSigner(cred), nil
	}
}

// ResolveType returns the effective credentials type for cfg.
func ResolveType(cfg config.AzdlsConfig) string {
	return cfg.CredentialsType()
}

// NewTokenCredential builds the Azure AD credential for the token-based
// credentials types.
func NewTokenCredential(creds config.CredentialsConfig) (azcore.TokenCredential, error) {
	switch creds.Type {
	case config.CredentialsClientSecret:
		cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.Secret, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure client secret credential: %w", err)
		}
		return cred, nil
	case config.CredentialsManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if creds.ClientID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(creds.ClientID)}
		}
		cred, err := azidentity.NewManagedIdentityCredential(opts)
		if err != nil {
			return nil, fmt.Errorf("creating Azure managed identity credential: %w", err)
		}
		return cred, nil
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure credential: %w", err)
		}
		return cred, nil
	}
}
