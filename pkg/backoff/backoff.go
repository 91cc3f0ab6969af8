package backoff

import "time"

const maxDelay = 60 * time.Second

// Delay returns the exponential backoff duration for a retry count:
// base * 2^retryCount, capped at 60s. Negative counts return base.
func Delay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retryCount < 0 {
		return base
	}

	// 2^30 seconds already exceeds any sane cap.
	if retryCount > 30 {
		return maxDelay
	}

	d := base * time.Duration(1<<retryCount)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
