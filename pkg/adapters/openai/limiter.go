package openai

import (
	"time"

	"golang.org/x/time/rate"
)

// newLimiter allows limit requests per interval, all of which may burst.
// It returns nil when limiting is off.
func newLimiter(limit int, interval time.Duration) *rate.Limiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(limit)), limit)
}
