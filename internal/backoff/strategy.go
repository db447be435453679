// Package backoff centralizes inter-attempt delay calculation for the retry
// controller. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before the given retry attempt. Attempt
// numbering starts at 0 for the delay after the first failure.
type Strategy interface {
	Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential implements exponential backoff with uniform jitter:
// min(max, initial * multiplier^attempt) plus a random fraction of the
// result, capped at max.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the float product cannot overflow a Duration.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(initial) * pow(multiplier, attempt))
	if d < 0 || d > max {
		d = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		amount := time.Duration(float64(d) * jitter * rand.Float64())
		if d+amount > max {
			d = max
		} else {
			d += amount
		}
	}
	return d
}

// Decorrelated implements AWS-style decorrelated jitter:
// random_between(initial, min(max, initial*3^attempt)). It produces smoother
// tail latencies than plain exponential jitter under contention.
type Decorrelated struct{}

// Delay implements Strategy.
func (Decorrelated) Delay(attempt int, initial, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * pow(3.0, attempt)

	ceiling := float64(max)
	if upper > ceiling || upper < 0 {
		upper = ceiling
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > max {
		d = max
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
