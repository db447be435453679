package compassone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingStore wraps MemorySecretStore counting backend calls.
type countingStore struct {
	*MemorySecretStore
	gets    int32
	rotates int32
	block   chan struct{} // when set, Get parks until closed
}

func (s *countingStore) Get(ctx context.Context, name string) (Credential, error) {
	atomic.AddInt32(&s.gets, 1)
	if s.block != nil {
		<-s.block
	}
	return s.MemorySecretStore.Get(ctx, name)
}

func (s *countingStore) Rotate(ctx context.Context, name string) (Credential, error) {
	atomic.AddInt32(&s.rotates, 1)
	return s.MemorySecretStore.Rotate(ctx, name)
}

func newCountingStore(t *testing.T, name string, cred Credential) *countingStore {
	t.Helper()
	mem := NewMemorySecretStore()
	if err := mem.Set(context.Background(), name, cred); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return &countingStore{MemorySecretStore: mem}
}

func TestResolveCachesCredential(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "s3cret"})
	cache := NewCredentialCache(store, "api-token")

	for i := 0; i < 5; i++ {
		cred, err := cache.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if cred.Value != "s3cret" {
			t.Errorf("Resolve value = %q, want s3cret", cred.Value)
		}
	}

	if got := atomic.LoadInt32(&store.gets); got != 1 {
		t.Errorf("backend fetches = %d, want 1", got)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "s3cret"})
	store.block = make(chan struct{})
	cache := NewCredentialCache(store, "api-token")

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Resolve(context.Background())
		}()
	}

	// Let every caller reach the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(store.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&store.gets); got != 1 {
		t.Errorf("backend fetches = %d, want exactly 1", got)
	}
}

func TestResolveMissingSecret(t *testing.T) {
	cache := NewCredentialCache(NewMemorySecretStore(), "absent")

	_, err := cache.Resolve(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Type != ErrorTypeCredentialUnavailable {
		t.Fatalf("err = %v, want CredentialUnavailable", err)
	}
	if !errors.Is(err, ErrSecretNotFound) {
		t.Error("cause should be ErrSecretNotFound")
	}
}

func TestResolveRotatesExpiringCredential(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{
		Value:     "stale",
		ExpiresAt: time.Now().Add(5 * time.Second), // inside the refresh skew
	})
	store.RotateFunc = func(_ string, _ Credential) (Credential, error) {
		return Credential{Value: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	cache := NewCredentialCache(store, "api-token")

	cred, err := cache.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.Value != "fresh" {
		t.Errorf("Resolve value = %q, want rotated credential", cred.Value)
	}
	if got := atomic.LoadInt32(&store.rotates); got != 1 {
		t.Errorf("rotations = %d, want 1", got)
	}
}

func TestResolveRotationFailure(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{
		Value:     "stale",
		ExpiresAt: time.Now().Add(time.Second),
	})
	cache := NewCredentialCache(store, "api-token")

	_, err := cache.Resolve(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Type != ErrorTypeRotationFailed {
		t.Fatalf("err = %v, want RotationFailed", err)
	}
}

func TestExpiredCredentialNeverReturned(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{
		Value:     "expired",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	cache := NewCredentialCache(store, "api-token")

	cred, err := cache.Resolve(context.Background())
	if err == nil {
		t.Fatalf("Resolve returned expired credential %s", cred.Redacted())
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "v1"})
	cache := NewCredentialCache(store, "api-token")

	cred, err := cache.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	cache.Invalidate(cred)

	if _, err := cache.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after invalidate returned error: %v", err)
	}
	if got := atomic.LoadInt32(&store.gets); got != 2 {
		t.Errorf("backend fetches = %d, want 2", got)
	}
}

func TestInvalidateStaleCredentialNoop(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "current"})
	cache := NewCredentialCache(store, "api-token")

	if _, err := cache.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	// Invalidating a credential that is not the cached one changes nothing.
	cache.Invalidate(Credential{Value: "other"})

	if _, err := cache.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got := atomic.LoadInt32(&store.gets); got != 1 {
		t.Errorf("backend fetches = %d, want 1 (no refetch)", got)
	}
}

func TestRotateCachesResult(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "v1"})
	store.RotateFunc = func(_ string, _ Credential) (Credential, error) {
		return Credential{Value: "v2"}, nil
	}
	cache := NewCredentialCache(store, "api-token")

	rotated, err := cache.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if rotated.Value != "v2" {
		t.Errorf("Rotate value = %q, want v2", rotated.Value)
	}

	cred, err := cache.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cred.Value != "v2" {
		t.Errorf("Resolve after Rotate = %q, want v2 without refetch", cred.Value)
	}
	if got := atomic.LoadInt32(&store.gets); got != 0 {
		t.Errorf("backend fetches = %d, want 0", got)
	}
}

func TestReleaseClearsCache(t *testing.T) {
	store := newCountingStore(t, "api-token", Credential{Value: "v1"})
	cache := NewCredentialCache(store, "api-token")

	if _, err := cache.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	cache.Release()
	cache.Release() // idempotent

	if _, err := cache.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after Release returned error: %v", err)
	}
	if got := atomic.LoadInt32(&store.gets); got != 2 {
		t.Errorf("backend fetches = %d, want 2", got)
	}
}

func TestCredentialRedaction(t *testing.T) {
	cred := Credential{Value: "super-secret-token", ExpiresAt: time.Now().Add(time.Hour)}

	for _, s := range []string{cred.Redacted(), cred.String()} {
		if strings.Contains(s, "super-secret-token") {
			t.Fatalf("redacted form %q leaks the secret", s)
		}
		if !strings.Contains(s, "credential(") {
			t.Errorf("redacted form %q missing placeholder", s)
		}
	}

	unset := Credential{}
	if unset.Redacted() != "credential(unset)" {
		t.Errorf("unset Redacted() = %q", unset.Redacted())
	}
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		cred Credential
		skew time.Duration
		want bool
	}{
		{"no expiry", Credential{Value: "v"}, time.Hour, false},
		{"far future", Credential{Value: "v", ExpiresAt: now.Add(time.Hour)}, time.Second, false},
		{"inside skew", Credential{Value: "v", ExpiresAt: now.Add(10 * time.Second)}, 30 * time.Second, true},
		{"already expired", Credential{Value: "v", ExpiresAt: now.Add(-time.Second)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.ExpiresWithin(now, tt.skew); got != tt.want {
				t.Errorf("ExpiresWithin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialEqual(t *testing.T) {
	a := Credential{Value: "same"}
	b := Credential{Value: "same", ExpiresAt: time.Now()}
	c := Credential{Value: "different"}

	if !a.Equal(b) {
		t.Error("credentials with equal values should compare equal")
	}
	if a.Equal(c) {
		t.Error("credentials with different values should not compare equal")
	}
}
