package refresh

import "time"

// backoff returns base * 2^retry, capped at max. A non-positive base
// disables waiting.
func backoff(base, max time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 0 {
		return base
	}
	// 2^30 * 1ns already exceeds any sensible cap
	if retry > 30 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if max > 0 && d > max {
		return max
	}
	return d
}
