//go:build azure

package compassone

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureKeyVaultSecretStore resolves credentials from Azure Key Vault using
// the default credential chain (managed identity, environment, CLI).
// Rotation re-reads the latest secret version: Key Vault rotation policies
// produce new versions out of band, so Rotate surfaces whatever the vault
// currently holds.
type AzureKeyVaultSecretStore struct {
	client *azsecrets.Client
}

// NewAzureKeyVaultSecretStore creates a store for the given vault URL, e.g.
// "https://myvault.vault.azure.net".
func NewAzureKeyVaultSecretStore(vaultURL string) (*AzureKeyVaultSecretStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Key Vault client: %w", err)
	}

	return &AzureKeyVaultSecretStore{client: client}, nil
}

// Get implements SecretStore.
func (s *AzureKeyVaultSecretStore) Get(ctx context.Context, name string) (Credential, error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: reading Key Vault secret %q: %v", ErrSecretNotFound, name, err)
	}

	cred := Credential{}
	if resp.Value != nil {
		cred.Value = *resp.Value
	}
	if resp.Attributes != nil && resp.Attributes.Expires != nil {
		cred.ExpiresAt = *resp.Attributes.Expires
	}
	return cred, nil
}

// Set implements SecretStore.
func (s *AzureKeyVaultSecretStore) Set(ctx context.Context, name string, cred Credential) error {
	params := azsecrets.SetSecretParameters{Value: &cred.Value}
	if _, err := s.client.SetSecret(ctx, name, params, nil); err != nil {
		return fmt.Errorf("writing Key Vault secret %q: %w", name, err)
	}
	return nil
}

// Rotate implements SecretStore by fetching the latest secret version.
func (s *AzureKeyVaultSecretStore) Rotate(ctx context.Context, name string) (Credential, error) {
	return s.Get(ctx, name)
}
