// SPDX-License-Identifier: MIT

package scheduler

import "time"

// Backoff returns the retry delay before attempt n (1-based):
// min(max, base * 2^(n-1)).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 5 * time.Second
	}
	if max <= 0 {
		max = 300 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
