package worker

import (
	"math"
	"math/rand"
	"time"
)

const maxRetryDelay = 30 * time.Second

// RetryDelay is the pause before requeueing a failed attempt:
// base, 2*base, 4*base... capped at 30s, plus up to 250ms of jitter.
// A non-positive base disables the pause.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	multiple := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiple)

	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}

	// small jitter so competing workers don't retry in lockstep
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
