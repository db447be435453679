package compassone

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth schemes supported by the request builder.
const (
	AuthSchemeBearer = "bearer" // Authorization: Bearer <secret>
	AuthSchemeAPIKey = "apikey" // X-Api-Key: <secret>
)

var (
	endpointPattern   = regexp.MustCompile(`^https?://[\w.-]+(?::\d+)?(?:/[\w.-]*)*$`)
	apiVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Config holds the connection settings validated by Connect. Invalid
// configuration is rejected before anything touches the network.
type Config struct {
	// Endpoint is the API base URL, e.g. "https://api.compassone.example.com".
	Endpoint string `yaml:"endpoint"`

	// APIVersion selects the upstream API version, "major.minor.patch".
	APIVersion string `yaml:"apiVersion"`

	// CredentialName is the secret store entry holding the API credential.
	CredentialName string `yaml:"credentialName"`

	// AuthScheme is "bearer" (default) or "apikey".
	AuthScheme string `yaml:"authScheme"`

	// TimeoutSeconds is the per-call timeout, 1..300.
	TimeoutSeconds int `yaml:"timeoutSeconds"`

	// MaxRetries is the attempt ceiling per invocation, 1..10.
	MaxRetries int `yaml:"maxRetries"`

	// RetryDelaySeconds is the initial backoff delay, 1..30.
	RetryDelaySeconds int `yaml:"retryDelaySeconds"`

	// MaxRetryDelaySeconds caps backoff growth, at most 30.
	MaxRetryDelaySeconds int `yaml:"maxRetryDelaySeconds"`

	// Jitter randomizes backoff delays to avoid synchronized retry storms.
	Jitter bool `yaml:"jitter"`

	// BulkOperationLimit bounds the number of items in one bulk call.
	BulkOperationLimit int `yaml:"bulkOperationLimit"`

	// MaxConcurrentOperations bounds in-flight bulk workers.
	MaxConcurrentOperations int `yaml:"maxConcurrentOperations"`
}

// DefaultConfig returns a Config with sane defaults. Endpoint and
// CredentialName must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		APIVersion:              "1.0.0",
		AuthScheme:              AuthSchemeBearer,
		TimeoutSeconds:          30,
		MaxRetries:              3,
		RetryDelaySeconds:       2,
		MaxRetryDelaySeconds:    30,
		Jitter:                  true,
		BulkOperationLimit:      100,
		MaxConcurrentOperations: 5,
	}
}

// LoadConfig reads a YAML config file and merges it over defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, newError(ErrorTypeConfiguration, "parsing config file", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field against its allowed range. All violations are
// ConfigurationError; none of them cause network traffic.
func (c Config) Validate() error {
	if !endpointPattern.MatchString(c.Endpoint) {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("endpoint %q is not a valid http(s) URL", c.Endpoint), nil)
	}
	if !apiVersionPattern.MatchString(c.APIVersion) {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("apiVersion %q must match major.minor.patch", c.APIVersion), nil)
	}
	if c.CredentialName == "" {
		return newError(ErrorTypeConfiguration, "credentialName must not be empty", nil)
	}
	switch c.AuthScheme {
	case AuthSchemeBearer, AuthSchemeAPIKey:
	default:
		return newError(ErrorTypeConfiguration, fmt.Sprintf("authScheme %q must be %q or %q", c.AuthScheme, AuthSchemeBearer, AuthSchemeAPIKey), nil)
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 300 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("timeoutSeconds %d must be in [1,300]", c.TimeoutSeconds), nil)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("maxRetries %d must be in [1,10]", c.MaxRetries), nil)
	}
	if c.RetryDelaySeconds < 1 || c.RetryDelaySeconds > 30 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("retryDelaySeconds %d must be in [1,30]", c.RetryDelaySeconds), nil)
	}
	if c.MaxRetryDelaySeconds < c.RetryDelaySeconds || c.MaxRetryDelaySeconds > 30 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("maxRetryDelaySeconds %d must be in [retryDelaySeconds,30]", c.MaxRetryDelaySeconds), nil)
	}
	if c.BulkOperationLimit < 1 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("bulkOperationLimit %d must be positive", c.BulkOperationLimit), nil)
	}
	if c.MaxConcurrentOperations < 1 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("maxConcurrentOperations %d must be positive", c.MaxConcurrentOperations), nil)
	}
	return nil
}

// Timeout returns the per-call timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// retryPolicy derives the RetryPolicy implied by the config fields.
func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  c.MaxRetries,
		InitialDelay: time.Duration(c.RetryDelaySeconds) * time.Second,
		MaxDelay:     time.Duration(c.MaxRetryDelaySeconds) * time.Second,
		Multiplier:   2.0,
		Jitter:       c.Jitter,
	}
}
