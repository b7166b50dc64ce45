package vault

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/systmms/kvrotate/internal/config"
	dserrors "github.com/systmms/kvrotate/internal/errors"
)

// NewCredential builds the token credential for the configured auth method.
// It is called once at process start and the result is shared by every
// component.
func NewCredential(auth config.AuthConfig) (azcore.TokenCredential, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)

	switch auth.Method {
	case config.AuthManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if auth.UserAssignedID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{
				ID: azidentity.ClientID(auth.UserAssignedID),
			}
		}
		cred, err = azidentity.NewManagedIdentityCredential(opts)

	case config.AuthClientSecret:
		if auth.Secret.Empty() {
			return nil, dserrors.ConfigError{
				Field:      "vault.auth.client_secret",
				Message:    "client secret is required for client_secret auth",
				Suggestion: fmt.Sprintf("Export %s or set vault.auth.client_secret", config.EnvClientSecret),
			}
		}
		err = auth.Secret.Reveal(func(secret string) error {
			var credErr error
			cred, credErr = azidentity.NewClientSecretCredential(auth.TenantID, auth.ClientID, secret, nil)
			return credErr
		})

	default:
		var opts *azidentity.DefaultAzureCredentialOptions
		if auth.TenantID != "" {
			opts = &azidentity.DefaultAzureCredentialOptions{TenantID: auth.TenantID}
		}
		cred, err = azidentity.NewDefaultAzureCredential(opts)
	}

	if err != nil {
		return nil, dserrors.UserError{
			Message:    "Failed to create Azure credential",
			Details:    err.Error(),
			Suggestion: suggestion(err),
			Err:        err,
		}
	}
	return cred, nil
}
