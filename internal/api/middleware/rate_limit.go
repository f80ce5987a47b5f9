package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/pkg/metrics"
	"readiness/internal/platform/config"
	"readiness/internal/platform/ratelimit"
)

// RateLimitMiddleware is the first gate on every rate limited route. Each
// request is charged to its client address and to the credential it
// presents; credentials are not yet verified here, so the address bucket
// stops a client minting fresh buckets with made-up keys.
type RateLimitMiddleware struct {
	limiter           ratelimit.Limiter
	limits            map[string]int
	addressMultiplier int
	window            time.Duration
	now               func() time.Time
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter, cfg config.RateLimitConfig) *RateLimitMiddleware {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	multiplier := cfg.AddressMultiplier
	if multiplier <= 0 {
		multiplier = 5
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		limits: map[string]int{
			ratelimit.ClassWebhooks: cfg.WebhooksPerMinute,
			ratelimit.ClassAPIKeys:  cfg.APIKeysPerMinute,
		},
		addressMultiplier: multiplier,
		window:            window,
		now:               time.Now,
	}
}

func (m *RateLimitMiddleware) Limit(class string) func(http.HandlerFunc) http.HandlerFunc {
	limit := m.limits[class]
	if limit <= 0 {
		limit = 100
	}
	addressLimit := limit * m.addressMultiplier

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			res := m.allow(r, class, ratelimit.Key(class, ratelimit.AddressID(ip)), addressLimit)
			if res.Allowed {
				res = m.allow(r, class, ratelimit.Key(class, ratelimit.CallerID(credential(r), ip)), limit)
			}
			metrics.RecordRateLimit(class, res.Allowed)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				errors.Write(w, errors.NewRateLimit(res.RetryAfterSeconds()))
				return
			}

			ctx := context.WithValue(r.Context(), apiContext.RateLimit, res)
			next(w, r.WithContext(ctx))
		}
	}
}

// allow charges one bucket. A limiter error admits the request.
func (m *RateLimitMiddleware) allow(r *http.Request, class, key string, limit int) *ratelimit.Result {
	res, err := m.limiter.Allow(r.Context(), key, limit, m.window)
	if err != nil {
		log.Warn().Err(err).Str("class", class).Msg("Rate limiter unavailable, admitting request")
		metrics.RecordRateLimitError(class)
	}
	if res == nil {
		res = &ratelimit.Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: m.now().Add(m.window)}
	}
	return res
}

// credential is whatever secret the caller presented, API key or JWT.
func credential(r *http.Request) string {
	if key := PresentedAPIKey(r); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
