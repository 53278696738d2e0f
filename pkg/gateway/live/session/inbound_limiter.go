package session

import (
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter caps bookkeeping frames (update_only, call_details) per
// second. Pings and turn requests are never limited.
type inboundLimiter struct {
	now func() time.Time
	lim *rate.Limiter
}

func newInboundLimiter(now func() time.Time, fps float64, burst int) *inboundLimiter {
	if fps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = max(1, int(fps))
	}
	return &inboundLimiter{now: now, lim: rate.NewLimiter(rate.Limit(fps), burst)}
}

func (l *inboundLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.AllowN(l.now(), 1)
}
