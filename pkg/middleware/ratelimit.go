package middleware

import (
	"net/http"
	"time"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/httputil"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/tokens"
)

const loginRateNamespace = "ratelimit:login"

// RateLimitMiddleware applies a fixed-window request limit per client
// IP on the credential endpoints. Redis failures fail open: a degraded
// limiter must not lock everyone out of login.
type RateLimitMiddleware struct {
	limiter *tokens.AttemptLimiter
	metrics *observability.Metrics
}

// NewRateLimitMiddleware creates an IP-keyed limiter over the shared
// token store.
func NewRateLimitMiddleware(store tokens.Store, limit int, window time.Duration, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: tokens.NewAttemptLimiter(store, loginRateNamespace, window, limit),
		metrics: metrics,
	}
}

// Handler wraps credential endpoints with the limiter.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + httputil.ClientIP(r)

		count, err := m.limiter.Increment(r.Context(), key)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, failing open")
			next.ServeHTTP(w, r)
			return
		}

		if !m.limiter.Allowed(count) {
			if m.metrics != nil {
				m.metrics.RateLimitHitsTotal.WithLabelValues("login").Inc()
			}
			httputil.WriteAppError(w, r, apperror.RateLimited("too many requests, slow down"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
