package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/gateway/apierror"
	"github.com/vango-go/vai-dealroom/pkg/gateway/metrics"
	"github.com/vango-go/vai-dealroom/pkg/gateway/principal"
	"github.com/vango-go/vai-dealroom/pkg/gateway/ratelimit"
)

func RateLimit(limiter *ratelimit.Limiter, trustProxyHeaders bool, m *metrics.Metrics, next http.Handler) http.Handler {
	if !limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes must stay cheap and reliable.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		caller := principal.Resolve(r, trustProxyHeaders)
		dec := limiter.AcquireRequest(caller.Key, time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit(string(dec.Reason))
			reqID, _ := RequestIDFrom(r.Context())
			coreErr := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			coreErr.RequestID = reqID
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			apierror.Write(w, http.StatusTooManyRequests, coreErr)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
