package compassone

import (
	"errors"
	"fmt"
	"time"
)

// Error type classifications used by the retry controller to decide whether
// a failure is worth another attempt.
const (
	ErrorTypeConfiguration         = "ConfigurationError"
	ErrorTypeCredentialUnavailable = "CredentialUnavailable"
	ErrorTypeRotationFailed        = "RotationFailed"
	ErrorTypeTimeout               = "Timeout"
	ErrorTypeConnection            = "ConnectionError"
	ErrorTypeTLS                   = "TlsError"
	ErrorTypeTransient             = "Transient"
	ErrorTypeRateLimited           = "RateLimited"
	ErrorTypeAuthFailure           = "AuthFailure"
	ErrorTypeClient                = "ClientError"
	ErrorTypeFatal                 = "Fatal"
	ErrorTypeRetryExhausted        = "RetryExhausted"
	ErrorTypeCircuitOpen           = "CircuitOpen"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("compassone: circuit open")

	// ErrRateLimited is returned when a request is denied by the client-side
	// rate limiter or by an upstream 429.
	ErrRateLimited = errors.New("compassone: rate limited")

	// ErrRetryExhausted is returned when all retry attempts are spent.
	ErrRetryExhausted = errors.New("compassone: retry attempts exhausted")

	// ErrCredentialUnavailable is returned when the secret store cannot
	// produce a usable credential.
	ErrCredentialUnavailable = errors.New("compassone: credential unavailable")

	// ErrSecretNotFound is returned by secret stores when the named secret
	// does not exist.
	ErrSecretNotFound = errors.New("compassone: secret not found")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("compassone: retry budget exceeded")

	// ErrClientClosed is returned by Invoke after Disconnect.
	ErrClientClosed = errors.New("compassone: client is disconnected")
)

// APIError is the structured error returned by all client operations. Type
// carries the classification, Cause the underlying error if any. Credential
// material is never included in any field.
type APIError struct {
	Type        string
	Message     string
	Cause       error
	StatusCode  int
	RetryAfter  time.Duration
	RequestID   string
	Operation   string
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error classifications for errors.Is.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*APIError); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimited
	case ErrRetryExhausted:
		return e.Type == ErrorTypeRetryExhausted
	case ErrCredentialUnavailable:
		return e.Type == ErrorTypeCredentialUnavailable
	}
	return false
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Timeouts, connection errors, 5xx responses, rate
// limiting and an open circuit all count as transient; auth failures,
// 4xx client errors and malformed responses do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeRateLimited, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return false
}

// errorType extracts the APIError classification, or ErrorTypeFatal when the
// error does not carry one. The retry controller treats unclassified errors
// as non-retryable.
func errorType(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeFatal
}

func newError(errType, message string, cause error) *APIError {
	return &APIError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
