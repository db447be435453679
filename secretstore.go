package compassone

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// MemorySecretStore is an in-memory SecretStore. It backs tests and simple
// deployments where the credential is injected at startup. Rotation is
// delegated to an optional RotateFunc; without one Rotate fails.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]Credential

	// RotateFunc provisions a replacement secret for name. Optional.
	RotateFunc func(name string, old Credential) (Credential, error)
}

// NewMemorySecretStore creates an empty in-memory store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]Credential)}
}

// Get implements SecretStore.
func (s *MemorySecretStore) Get(_ context.Context, name string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.secrets[name]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	return cred, nil
}

// Set implements SecretStore.
func (s *MemorySecretStore) Set(_ context.Context, name string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = cred
	return nil
}

// Rotate implements SecretStore.
func (s *MemorySecretStore) Rotate(_ context.Context, name string) (Credential, error) {
	if s.RotateFunc == nil {
		return Credential{}, fmt.Errorf("memory secret store: no rotation configured for %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rotated, err := s.RotateFunc(name, s.secrets[name])
	if err != nil {
		return Credential{}, err
	}
	s.secrets[name] = rotated
	return rotated, nil
}

// EnvSecretStore resolves secrets from environment variables. A secret named
// "api-token" with prefix "COMPASSONE_" is read from COMPASSONE_API_TOKEN.
// An optional companion variable with suffix _EXPIRES_AT (RFC 3339) supplies
// the expiry. Rotation is not supported: env-provided credentials rotate by
// restarting the process.
type EnvSecretStore struct {
	prefix string
}

// NewEnvSecretStore creates a store reading variables with the given prefix.
// An empty prefix defaults to "COMPASSONE_".
func NewEnvSecretStore(prefix string) *EnvSecretStore {
	if prefix == "" {
		prefix = "COMPASSONE_"
	}
	return &EnvSecretStore{prefix: prefix}
}

// NewEnvSecretStoreFromDotenv loads the given .env files (default ".env")
// into the environment first, then behaves like NewEnvSecretStore. Missing
// files are an error, matching godotenv.
func NewEnvSecretStoreFromDotenv(prefix string, files ...string) (*EnvSecretStore, error) {
	if err := godotenv.Load(files...); err != nil {
		return nil, newError(ErrorTypeConfiguration, "loading .env file", err)
	}
	return NewEnvSecretStore(prefix), nil
}

func (s *EnvSecretStore) envKey(name string) string {
	k := strings.ToUpper(name)
	k = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(k)
	return s.prefix + k
}

// Get implements SecretStore.
func (s *EnvSecretStore) Get(_ context.Context, name string) (Credential, error) {
	key := s.envKey(name)
	value := os.Getenv(key)
	if value == "" {
		return Credential{}, fmt.Errorf("%w: environment variable %s is unset", ErrSecretNotFound, key)
	}

	cred := Credential{Value: value}
	if raw := os.Getenv(key + "_EXPIRES_AT"); raw != "" {
		expires, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Credential{}, fmt.Errorf("parsing %s_EXPIRES_AT: %w", key, err)
		}
		cred.ExpiresAt = expires
	}
	return cred, nil
}

// Set implements SecretStore.
func (s *EnvSecretStore) Set(_ context.Context, name string, cred Credential) error {
	return os.Setenv(s.envKey(name), cred.Value)
}

// Rotate implements SecretStore.
func (s *EnvSecretStore) Rotate(_ context.Context, name string) (Credential, error) {
	return Credential{}, fmt.Errorf("env secret store: rotation is not supported for %q", name)
}
