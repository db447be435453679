package compassone

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/blackpointcyber/compassone-go/internal/singleflight"
)

// DefaultRefreshSkew is how long before a credential's expiry the cache
// treats it as stale. Refreshing ahead of the deadline guarantees an expired
// credential is never attached to a request.
const DefaultRefreshSkew = 30 * time.Second

// Credential is an opaque API secret plus an optional expiry. The zero value
// is unusable. Credential values must never be logged or serialized; use
// Redacted for any observable representation.
type Credential struct {
	Value     string
	ExpiresAt time.Time // zero means no known expiry
}

// IsZero reports whether the credential carries no secret.
func (c Credential) IsZero() bool { return c.Value == "" }

// ExpiresWithin reports whether the credential expires before now+skew.
// Credentials without a known expiry never expire.
func (c Credential) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// Equal compares two credentials in constant time.
func (c Credential) Equal(other Credential) bool {
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(other.Value)) == 1
}

// Redacted returns a loggable placeholder: presence and expiry only, never
// the value.
func (c Credential) Redacted() string {
	if c.IsZero() {
		return "credential(unset)"
	}
	if c.ExpiresAt.IsZero() {
		return "credential(set)"
	}
	return fmt.Sprintf("credential(set, expires=%s)", c.ExpiresAt.UTC().Format(time.RFC3339))
}

// String implements fmt.Stringer so accidental formatting cannot leak the
// secret.
func (c Credential) String() string { return c.Redacted() }

// SecretStore is the external secret backend consumed by the credential
// cache. Implementations must be safe for concurrent use. Get returns
// ErrSecretNotFound when the named secret does not exist; Rotate provisions
// a replacement secret and returns it.
type SecretStore interface {
	Get(ctx context.Context, name string) (Credential, error)
	Set(ctx context.Context, name string, cred Credential) error
	Rotate(ctx context.Context, name string) (Credential, error)
}

// CredentialCache caches one credential identity resolved from a
// SecretStore. Concurrent Resolve calls during a miss coalesce into a single
// backend fetch; reads of a valid cached credential take no exclusive lock.
type CredentialCache struct {
	store SecretStore
	name  string
	skew  time.Duration

	group *singleflight.Group

	mu    sync.RWMutex
	cur   Credential
	valid bool

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
}

// NewCredentialCache creates a cache for the named secret.
func NewCredentialCache(store SecretStore, name string) *CredentialCache {
	return &CredentialCache{
		store:  store,
		name:   name,
		skew:   DefaultRefreshSkew,
		group:  singleflight.New(),
		logger: NoopLogger{},
	}
}

// Resolve returns the cached credential if it is still valid, otherwise
// fetches from the secret store. At most one fetch is in flight at a time;
// concurrent callers await its result. A credential already past (or within
// the refresh skew of) its expiry triggers a store rotation before anything
// is returned.
func (cc *CredentialCache) Resolve(ctx context.Context) (Credential, error) {
	now := time.Now()

	cc.mu.RLock()
	if cc.valid && !cc.cur.ExpiresWithin(now, cc.skew) {
		cred := cc.cur
		cc.mu.RUnlock()
		return cred, nil
	}
	cc.mu.RUnlock()

	v, err, shared := cc.group.Do(ctx, cc.name, func() (any, error) {
		return cc.fetch(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	cred := v.(Credential)

	// A waiter may receive a credential that expired while it was parked.
	if cred.ExpiresWithin(time.Now(), 0) {
		if shared {
			return cc.Resolve(ctx)
		}
		return Credential{}, newError(ErrorTypeCredentialUnavailable, "secret store returned an expired credential", ErrCredentialUnavailable)
	}

	return cred, nil
}

// fetch runs inside the single-flight group: load from the store, rotate if
// the stored secret is already stale, cache the result.
func (cc *CredentialCache) fetch(ctx context.Context) (Credential, error) {
	cred, err := cc.store.Get(ctx, cc.name)
	if err != nil {
		if cc.metrics != nil {
			cc.metrics.RecordCredentialRefresh("error")
		}
		return Credential{}, newError(ErrorTypeCredentialUnavailable,
			fmt.Sprintf("resolving credential %q", cc.name), err)
	}

	if cred.IsZero() {
		if cc.metrics != nil {
			cc.metrics.RecordCredentialRefresh("error")
		}
		return Credential{}, newError(ErrorTypeCredentialUnavailable,
			fmt.Sprintf("credential %q is empty", cc.name), ErrCredentialUnavailable)
	}

	if cred.ExpiresWithin(time.Now(), cc.skew) {
		rotated, rerr := cc.store.Rotate(ctx, cc.name)
		if rerr != nil {
			if cc.metrics != nil {
				cc.metrics.RecordCredentialRotation("error")
			}
			return Credential{}, newError(ErrorTypeRotationFailed,
				fmt.Sprintf("rotating expiring credential %q", cc.name), rerr)
		}
		if cc.metrics != nil {
			cc.metrics.RecordCredentialRotation("ok")
		}
		cred = rotated
	}

	cc.mu.Lock()
	cc.cur = cred
	cc.valid = true
	cc.mu.Unlock()

	if cc.metrics != nil {
		cc.metrics.RecordCredentialRefresh("ok")
	}
	if cc.debug != nil && cc.debug.Enabled && cc.debug.LogCredentials {
		cc.logger.Debug("Credential refreshed", "name", cc.name, "credential", cred.Redacted())
	}

	return cred, nil
}

// Invalidate drops the cached credential if it matches cred, forcing the
// next Resolve to refetch. Passing a credential that is no longer current is
// a no-op, so a burst of auth failures invalidates only once.
func (cc *CredentialCache) Invalidate(cred Credential) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !cc.valid || !cc.cur.Equal(cred) {
		return
	}
	cc.cur = Credential{}
	cc.valid = false

	if cc.debug != nil && cc.debug.Enabled && cc.debug.LogCredentials {
		cc.logger.Debug("Credential invalidated", "name", cc.name)
	}
}

// Rotate forces the secret store to provision a fresh credential and caches
// it. Concurrent rotations coalesce like concurrent fetches.
func (cc *CredentialCache) Rotate(ctx context.Context) (Credential, error) {
	v, err, _ := cc.group.Do(ctx, cc.name+"#rotate", func() (any, error) {
		cred, rerr := cc.store.Rotate(ctx, cc.name)
		if rerr != nil {
			if cc.metrics != nil {
				cc.metrics.RecordCredentialRotation("error")
			}
			return nil, newError(ErrorTypeRotationFailed,
				fmt.Sprintf("rotating credential %q", cc.name), rerr)
		}
		cc.mu.Lock()
		cc.cur = cred
		cc.valid = true
		cc.mu.Unlock()
		if cc.metrics != nil {
			cc.metrics.RecordCredentialRotation("ok")
		}
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Release clears the cached credential. Called on Disconnect; idempotent.
func (cc *CredentialCache) Release() {
	cc.mu.Lock()
	cc.cur = Credential{}
	cc.valid = false
	cc.mu.Unlock()
}
