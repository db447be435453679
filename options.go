package compassone

import (
	"net/http"
	"time"
)

// Option configures a Client during Connect.
type Option func(*Client)

// WithSecretStore sets the backend from which the API credential is
// resolved. Defaults to an environment-variable store.
func WithSecretStore(store SecretStore) Option {
	return func(c *Client) {
		c.store = store
		c.creds = NewCredentialCache(store, c.cfg.CredentialName)
	}
}

// WithCredentialCache sets a pre-built credential cache, for callers sharing
// one cache across clients.
func WithCredentialCache(cache *CredentialCache) Option {
	return func(c *Client) {
		c.creds = cache
	}
}

// WithRetryPolicy overrides the retry policy derived from the Config.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithRetryBudget bounds retries across all invocations to maxRetries per
// window.
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.budget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithRateLimiter enables the client-side token bucket.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.transport.limiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithCircuitBreaker enables the circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithHTTPClient replaces the underlying HTTP client. The caller is
// responsible for keeping the TLS 1.2 floor when supplying a transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport.httpClient = client
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
		c.debug.Enabled = true
	}
}

// WithDebug enables debug logging with the current debug configuration.
func WithDebug() Option {
	return func(c *Client) {
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		if config.RequestIDGen == nil {
			config.RequestIDGen = DefaultDebugConfig().RequestIDGen
		}
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom request-ID generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.debug.RequestIDGen = gen
	}
}
