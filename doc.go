// Package compassone provides a resilient client for the CompassOne
// security-platform REST API with composable reliability primitives:
//
//   - Retries with exponential backoff + jitter, honoring Retry-After hints
//   - Credential resolution from a pluggable secret store with single-flight
//     refresh, expiry tracking and rotation
//   - TLS 1.2+ enforcing transport with strict per-call timeouts
//   - Rate limiting (token bucket) and an optional circuit breaker
//   - Paginated list operations exposed as lazy, restartable pagers
//   - Bounded-concurrency bulk invocation
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – a validated Config plus functional options
//   - Transport performs exactly one attempt; retry decisions live in one place
//   - Safe concurrent use of a single *Client instance
//   - Credential material never reaches logs, metrics or error strings
//
// Typical usage:
//
//	cfg := compassone.DefaultConfig()
//	cfg.Endpoint = "https://api.compassone.example.com"
//	cfg.CredentialName = "api-token"
//
//	client, err := compassone.Connect(cfg,
//	    compassone.WithSecretStore(store),
//	    compassone.WithMetrics(),
//	)
//	if err != nil {
//	    // ConfigurationError: nothing was sent on the wire
//	}
//	defer client.Disconnect()
//
//	asset, err := client.GetAsset(ctx, "a-1042")
//
// Failures carry a classification (Transient, RateLimited, AuthFailure,
// ClientError, Fatal, ...) via *APIError; IsTransient and the sentinel
// errors support errors.Is / errors.As based handling.
package compassone
