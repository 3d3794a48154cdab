package transfer

import "time"

// LinearBackoff is the download delay: attempt times base
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * base
}

// ExponentialBackoff is the upload delay: 2^attempt seconds, capped at max
func ExponentialBackoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	// 2^31 seconds is far past any sensible cap
	if attempt > 30 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}
