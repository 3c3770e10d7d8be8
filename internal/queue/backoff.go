// Package queue implements the deferred request queue: remote calls that
// could not proceed immediately wait here and are retried by a periodic tick.
package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defaults
const (
	// DefaultTransientBase is the first retry delay after a transient failure
	DefaultTransientBase = 5 * time.Second
	// DefaultTransientFactor is the exponential growth factor between attempts
	DefaultTransientFactor = 2.0
	// DefaultTransientCap bounds the transient retry delay
	DefaultTransientCap = 5 * time.Minute
	// DefaultQuotaDelay is the retry delay after a rate limit rejection when
	// the platform did not report a reset time
	DefaultQuotaDelay = 5 * time.Minute
	// QuotaSafetyMargin is added on top of a reported window reset so the
	// retry lands comfortably inside the fresh window
	QuotaSafetyMargin = 30 * time.Second
	// jitterFraction is the ± spread applied to transient delays
	jitterFraction = 0.2
)

// TransientBackoff returns the delay before retry number attempt (0-based)
// of a transiently failed request. Exponential with jitter, capped.
func TransientBackoff(attempt int) time.Duration {
	delay := float64(DefaultTransientBase) * math.Pow(DefaultTransientFactor, float64(attempt))
	if delay > float64(DefaultTransientCap) {
		delay = float64(DefaultTransientCap)
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
}

// QuotaBackoff returns the delay before retrying a rate-limited request.
// resetIn is the platform-reported time until the window resets; zero means
// unknown.
func QuotaBackoff(resetIn time.Duration) time.Duration {
	if resetIn <= 0 {
		return DefaultQuotaDelay
	}
	return resetIn + QuotaSafetyMargin
}
