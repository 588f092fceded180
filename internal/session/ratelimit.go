package session

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimit caps inbound chat messages per session: Burst messages may arrive
// at once, refilled at Burst per RefillInterval.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg RateLimit) *rate.Limiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(cfg.Burst)/interval.Seconds()), cfg.Burst)
}
