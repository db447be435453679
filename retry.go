package compassone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blackpointcyber/compassone-go/internal/backoff"
)

// RetryPolicy controls the retry controller. It is immutable once
// constructed and shared read-only across concurrent invocations.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, 1..10.
	MaxAttempts int

	// InitialDelay seeds the exponential backoff, 1s..30s.
	InitialDelay time.Duration

	// MaxDelay caps every inter-attempt delay, at most 30s.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts; 2 is the only supported
	// factor upstream, so DefaultRetryPolicy uses it.
	Multiplier float64

	// Jitter adds a random offset in [0, delay/2) to each delay.
	Jitter bool

	// Strategy overrides the backoff algorithm. Nil means exponential.
	Strategy backoff.Strategy
}

// DefaultRetryPolicy mirrors the upstream operational defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Validate range-checks the policy fields.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.MaxAttempts > 10 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("retry maxAttempts %d must be in [1,10]", p.MaxAttempts), nil)
	}
	if p.InitialDelay < time.Second || p.InitialDelay > 30*time.Second {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("retry initialDelay %s must be in [1s,30s]", p.InitialDelay), nil)
	}
	if p.MaxDelay < p.InitialDelay || p.MaxDelay > 30*time.Second {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("retry maxDelay %s must be in [initialDelay,30s]", p.MaxDelay), nil)
	}
	if p.Multiplier < 1 {
		return newError(ErrorTypeConfiguration, fmt.Sprintf("retry multiplier %v must be >= 1", p.Multiplier), nil)
	}
	return nil
}

// Delay computes the backoff before retrying after the given failed attempt
// (1-based). The result never exceeds MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	strategy := p.Strategy
	if strategy == nil {
		strategy = backoff.Exponential{}
	}
	jitter := 0.0
	if p.Jitter {
		jitter = 0.5
	}
	return strategy.Delay(attempt-1, p.InitialDelay, p.MaxDelay, p.Multiplier, jitter)
}

// retryController drives attempts against a rebuilt-per-attempt operation.
// Classification decides the outcome: transient failures back off and retry,
// an auth failure invalidates the credential and retries once immediately,
// everything else propagates.
type retryController struct {
	policy RetryPolicy
	budget *RetryBudget

	// invalidate drops the credential used by the failing attempt. Nil when
	// no credential cache is wired (tests).
	invalidate func()

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	// sleep is swappable in tests. Returns the context error if cancelled
	// mid-delay; no request is in flight at that point.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryController(policy RetryPolicy) *retryController {
	return &retryController{
		policy: policy,
		logger: NoopLogger{},
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs op until success, a non-retryable failure, or attempt
// exhaustion. Each call of op is independent: the caller rebuilds the wire
// request inside op, so no state leaks between attempts.
func (rc *retryController) Execute(ctx context.Context, operation string, op func(ctx context.Context, attempt int) (*Result, error)) (*Result, error) {
	attempt := 1
	authRetried := false
	var lastErr error

	for {
		res, err := op(ctx, attempt)
		if err == nil {
			if rc.metrics != nil {
				rc.metrics.RecordAttempt(operation, "success")
			}
			return res, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = newError(ErrorTypeFatal, "unclassified failure", err)
		}
		apiErr.Operation = operation
		apiErr.Attempt = attempt
		apiErr.MaxAttempts = rc.policy.MaxAttempts

		switch apiErr.Type {
		case ErrorTypeAuthFailure:
			// One immediate retry with a freshly resolved credential; a
			// second auth failure is terminal.
			if !authRetried && rc.invalidate != nil && attempt < rc.policy.MaxAttempts {
				authRetried = true
				rc.invalidate()
				if rc.metrics != nil {
					rc.metrics.RecordAttempt(operation, "auth_retry")
				}
				if rc.debug != nil && rc.debug.Enabled && rc.debug.LogRetries {
					rc.logger.Info("Auth failure, refreshing credential", "operation", operation, "attempt", attempt)
				}
				attempt++
				continue
			}
			return nil, apiErr

		case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeRateLimited, ErrorTypeCircuitOpen:
			if attempt >= rc.policy.MaxAttempts {
				if rc.metrics != nil {
					rc.metrics.RecordAttempt(operation, "exhausted")
				}
				return nil, &APIError{
					Type:        ErrorTypeRetryExhausted,
					Message:     fmt.Sprintf("%d attempts exhausted", attempt),
					Cause:       lastErr,
					Operation:   operation,
					Attempt:     attempt,
					MaxAttempts: rc.policy.MaxAttempts,
					Timestamp:   time.Now(),
				}
			}

			if rc.budget != nil && !rc.budget.Allow() {
				if rc.metrics != nil {
					rc.metrics.RecordRetryBudgetExceeded(operation)
				}
				return nil, newError(ErrorTypeRetryExhausted, "retry budget exceeded", ErrRetryBudgetExceeded)
			}

			delay := rc.policy.Delay(attempt)
			// A server-provided Retry-After hint wins when it asks for more
			// patience than the computed backoff.
			if apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
			}

			if rc.metrics != nil {
				rc.metrics.RecordAttempt(operation, "retry")
				rc.metrics.RecordRetry(operation, attempt)
			}
			if rc.debug != nil && rc.debug.Enabled && rc.debug.LogRetries {
				rc.logger.Info("Scheduling retry", "operation", operation, "attempt", attempt, "delay", delay, "errorType", apiErr.Type)
			}

			if serr := rc.sleep(ctx, delay); serr != nil {
				return nil, newError(ErrorTypeTimeout, "canceled while waiting to retry", serr)
			}
			attempt++

		default:
			// ClientError, Fatal, TlsError, ConfigurationError,
			// CredentialUnavailable, RotationFailed: not retryable.
			if rc.metrics != nil {
				rc.metrics.RecordAttempt(operation, "failure")
			}
			return nil, apiErr
		}
	}
}

// RetryBudget bounds retries across all invocations within a sliding window
// so a flapping upstream cannot trigger a retry storm.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget allows maxRetries retries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits the budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	if atomic.LoadInt64(&rb.current) >= rb.maxRetries {
		return false
	}
	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// parseRetryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form. Values are capped at one hour; unparseable input yields 0.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
