package compassone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemorySecretStore(t *testing.T) {
	store := NewMemorySecretStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "absent"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Get(absent) = %v, want ErrSecretNotFound", err)
	}

	if err := store.Set(ctx, "api-token", Credential{Value: "v1"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	cred, err := store.Get(ctx, "api-token")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if cred.Value != "v1" {
		t.Errorf("Value = %q", cred.Value)
	}
}

func TestMemorySecretStoreRotate(t *testing.T) {
	store := NewMemorySecretStore()
	ctx := context.Background()
	_ = store.Set(ctx, "api-token", Credential{Value: "v1"})

	if _, err := store.Rotate(ctx, "api-token"); err == nil {
		t.Fatal("Rotate without RotateFunc should error")
	}

	store.RotateFunc = func(name string, old Credential) (Credential, error) {
		if old.Value != "v1" {
			t.Errorf("old.Value = %q, want v1", old.Value)
		}
		return Credential{Value: "v2"}, nil
	}

	rotated, err := store.Rotate(ctx, "api-token")
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if rotated.Value != "v2" {
		t.Errorf("rotated.Value = %q", rotated.Value)
	}

	// The rotated secret is persisted.
	cred, _ := store.Get(ctx, "api-token")
	if cred.Value != "v2" {
		t.Errorf("Get after Rotate = %q, want v2", cred.Value)
	}
}

func TestEnvSecretStoreKeyNormalization(t *testing.T) {
	t.Setenv("COMPASSONE_API_TOKEN", "env-secret")

	store := NewEnvSecretStore("")
	cred, err := store.Get(context.Background(), "api-token")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if cred.Value != "env-secret" {
		t.Errorf("Value = %q", cred.Value)
	}
}

func TestEnvSecretStoreCustomPrefix(t *testing.T) {
	t.Setenv("ACME_PROD_TOKEN", "prefixed")

	store := NewEnvSecretStore("ACME_")
	cred, err := store.Get(context.Background(), "prod.token")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if cred.Value != "prefixed" {
		t.Errorf("Value = %q", cred.Value)
	}
}

func TestEnvSecretStoreExpiry(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	t.Setenv("COMPASSONE_API_TOKEN", "v")
	t.Setenv("COMPASSONE_API_TOKEN_EXPIRES_AT", expires.Format(time.RFC3339))

	store := NewEnvSecretStore("")
	cred, err := store.Get(context.Background(), "api-token")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !cred.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, expires)
	}
}

func TestEnvSecretStoreBadExpiry(t *testing.T) {
	t.Setenv("COMPASSONE_API_TOKEN", "v")
	t.Setenv("COMPASSONE_API_TOKEN_EXPIRES_AT", "next tuesday")

	store := NewEnvSecretStore("")
	if _, err := store.Get(context.Background(), "api-token"); err == nil {
		t.Fatal("Get with malformed expiry should error")
	}
}

func TestEnvSecretStoreMissing(t *testing.T) {
	store := NewEnvSecretStore("COMPASSONE_TEST_ABSENT_")
	if _, err := store.Get(context.Background(), "nothing"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Get = %v, want ErrSecretNotFound", err)
	}
}

func TestEnvSecretStoreRotateUnsupported(t *testing.T) {
	store := NewEnvSecretStore("")
	if _, err := store.Rotate(context.Background(), "api-token"); err == nil {
		t.Fatal("env store rotation should be unsupported")
	}
}

func TestEnvSecretStoreFromDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DOTENV_API_TOKEN=from-file\n"), 0o600); err != nil {
		t.Fatalf("writing .env: %v", err)
	}
	t.Setenv("DOTENV_API_TOKEN", "") // godotenv does not override, so clear first
	os.Unsetenv("DOTENV_API_TOKEN")

	store, err := NewEnvSecretStoreFromDotenv("DOTENV_", path)
	if err != nil {
		t.Fatalf("NewEnvSecretStoreFromDotenv returned error: %v", err)
	}

	cred, err := store.Get(context.Background(), "api-token")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if cred.Value != "from-file" {
		t.Errorf("Value = %q", cred.Value)
	}
}

func TestEnvSecretStoreFromDotenvMissingFile(t *testing.T) {
	_, err := NewEnvSecretStoreFromDotenv("X_", filepath.Join(t.TempDir(), "absent.env"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Type != ErrorTypeConfiguration {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}
