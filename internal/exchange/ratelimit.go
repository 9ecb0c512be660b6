package exchange

import (
	"time"

	"golang.org/x/time/rate"
)

// NewRateLimit spreads actions evenly over interval with a burst of one. A
// non-positive interval or action count disables limiting.
func NewRateLimit(interval time.Duration, actions int) *rate.Limiter {
	if actions <= 0 || interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	rps := float64(actions) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(rps), 1)
}
