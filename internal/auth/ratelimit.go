package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"store-backend/internal/counter"
	"store-backend/internal/observability"
)

type RateLimitConfig struct {
	Name   string
	Max    int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window counter keyed by (client address, route). Across a
// window boundary it can admit up to 2*Max requests.
//
// With the in-memory counter store each instance counts independently; horizontally
// scaled deployments need the redis or postgres backend.
type RateLimiter struct {
	store   counter.Store
	name    string
	max     int
	window  time.Duration
	now     func() time.Time
	ips     *observability.ClientIPResolver
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewRateLimiter(store counter.Store, cfg RateLimitConfig, logger *observability.Logger, metrics *observability.Metrics) *RateLimiter {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "api"
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &RateLimiter{
		store:   store,
		name:    cfg.Name,
		max:     cfg.Max,
		window:  cfg.Window,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// WithClientIPResolver sets how the middleware derives the client address. Without one,
// the limiter keys on the direct peer and ignores forwarding headers.
func (l *RateLimiter) WithClientIPResolver(ips *observability.ClientIPResolver) *RateLimiter {
	l.ips = ips
	return l
}

func (l *RateLimiter) key(clientAddr, route string) string {
	return "ratelimit:" + l.name + ":" + clientAddr + "|" + route
}

// Allow counts one request for (clientAddr, route).
func (l *RateLimiter) Allow(ctx context.Context, clientAddr, route string) (Decision, error) {
	now := l.now().UTC()

	var denied bool
	rec, err := l.store.Update(context.WithoutCancel(ctx), l.key(clientAddr, route), l.window, func(current counter.Record, found bool) counter.Record {
		denied = false
		if !found || now.After(current.Until) {
			return counter.Record{Count: 1, Until: now.Add(l.window)}
		}
		if current.Count >= l.max {
			denied = true
			return current
		}
		current.Count++
		return current
	})
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed:   !denied,
		Count:     rec.Count,
		Remaining: l.max - rec.Count,
		ResetAt:   rec.Until,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if denied {
		decision.RetryAfter = rec.Until.Sub(now)
	}
	return decision, nil
}

// Middleware rejects over-limit requests with 429. Counter store failures let the
// request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}

		clientIP := l.ips.ClientIP(r)
		decision, err := l.Allow(r.Context(), clientIP, route)
		if err != nil {
			l.logger.Error("rate_limit_store_failed", map[string]any{"route": route, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			l.metrics.ObserveRateLimited(route)
			l.logger.Warn("rate_limited", map[string]any{
				"route":          route,
				"ip":             clientIP,
				"retry_after_ms": decision.RetryAfter.Milliseconds(),
			})
			WriteError(w, RateLimitedError{RetryAfter: decision.RetryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}
