package scheduler

import "time"

// Backoff returns min(2^retryCount * base, max). Negative counts are treated
// as zero and the shift is capped so large counts cannot overflow.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	delay := base << uint(retryCount)
	if max > 0 && (delay > max || delay <= 0) {
		return max
	}
	return delay
}
