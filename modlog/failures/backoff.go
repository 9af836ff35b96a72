package failures

import (
	"time"
)

// Backoff returns the delay before the next attempt, given how many attempts have failed so far (starting at 1).
//
// Implementations must be non-decreasing in attempt.
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles the delay on every failure, starting at base and capped at ceiling.
func ExponentialBackoff(base, ceiling time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		shift := attempt - 1
		if shift >= 32 {
			return ceiling
		}
		d := base * time.Duration(1<<uint(shift))
		if d <= 0 || d > ceiling {
			return ceiling
		}
		return d
	}
}

// FixedBackoff waits the same delay after every failure.
func FixedBackoff(delay time.Duration) Backoff {
	return func(int) time.Duration {
		return delay
	}
}

// DefaultBackoff starts at 10 seconds (one scanner interval) and tops out at 30 minutes.
var DefaultBackoff = ExponentialBackoff(10*time.Second, 30*time.Minute)
