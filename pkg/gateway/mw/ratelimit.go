package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/vango-go/callbridge/pkg/gateway/metrics"
)

const rateLimitMessage = "Too many requests. Please wait a moment."

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// TrustProxyHeaders keys on X-Forwarded-For / X-Real-IP instead of the
	// socket address. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	// Name labels the rate-limit metric.
	Name    string
	Metrics *metrics.Metrics
}

// RateLimit limits requests per client IP in a sliding window. A
// non-positive Limit disables it.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	keyFunc := httprate.KeyByIP
	if cfg.TrustProxyHeaders {
		keyFunc = httprate.KeyByRealIP
	}
	retryAfter := strconv.Itoa(max(1, int(cfg.Window.Seconds())))

	return httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			cfg.Metrics.RecordRateLimitHit(cfg.Name)
			w.Header().Set("Retry-After", retryAfter)
			WriteError(w, http.StatusTooManyRequests, rateLimitMessage)
		}),
	)
}
