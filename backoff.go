package eqws

import (
	"math"
	"time"
)

// backoffCalculator returns how long to wait before the given reconnection
// attempt. attempts starts at 1 for the first failure after a successful open.
type backoffCalculator func(attempts int) time.Duration

// LinearBackoff waits base + attempts*step.
func LinearBackoff(base, step time.Duration) backoffCalculator {
	return func(attempts int) time.Duration {
		return base + time.Duration(attempts)*step
	}
}

func ExponentialBackoff(attempts int) float64 {
	return (math.Pow(2.0, float64(attempts)) - 1) / 2
}

func ExponentialBackoffSeconds(attempts int) time.Duration {
	return time.Duration(ExponentialBackoff(attempts) * float64(time.Second))
}
