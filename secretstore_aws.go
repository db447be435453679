//go:build aws

package compassone

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecretsManagerStore resolves credentials from AWS Secrets Manager using
// the default AWS config chain. Rotate triggers the secret's configured
// rotation Lambda and returns the current value.
type AWSSecretsManagerStore struct {
	client *secretsmanager.Client
}

// NewAWSSecretsManagerStore creates a store using ambient AWS configuration.
func NewAWSSecretsManagerStore(ctx context.Context) (*AWSSecretsManagerStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSSecretsManagerStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Get implements SecretStore.
func (s *AWSSecretsManagerStore) Get(ctx context.Context, name string) (Credential, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return Credential{}, fmt.Errorf("%w: reading Secrets Manager secret %q: %v", ErrSecretNotFound, name, err)
	}

	cred := Credential{}
	if out.SecretString != nil {
		cred.Value = *out.SecretString
	}
	return cred, nil
}

// Set implements SecretStore.
func (s *AWSSecretsManagerStore) Set(ctx context.Context, name string, cred Credential) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &name,
		SecretString: &cred.Value,
	})
	if err != nil {
		return fmt.Errorf("writing Secrets Manager secret %q: %w", name, err)
	}
	return nil
}

// Rotate implements SecretStore.
func (s *AWSSecretsManagerStore) Rotate(ctx context.Context, name string) (Credential, error) {
	if _, err := s.client.RotateSecret(ctx, &secretsmanager.RotateSecretInput{
		SecretId: &name,
	}); err != nil {
		return Credential{}, fmt.Errorf("rotating Secrets Manager secret %q: %w", name, err)
	}
	return s.Get(ctx, name)
}
