package middleware

import (
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxClients bounds the number of tracked client IPs; the least
	// recently seen client is forgotten first.
	MaxClients int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		MaxClients:        10000,
	}
}

type limiterStore struct {
	cfg      RateLimitConfig
	limiters *lru.Cache[string, *rate.Limiter]
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultRateLimitConfig().MaxClients
	}
	cache, _ := lru.New[string, *rate.Limiter](cfg.MaxClients)
	return &limiterStore{cfg: cfg, limiters: cache}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
	// Two concurrent first requests may race here; the loser keeps the
	// limiter already stored.
	if prev, ok, _ := s.limiters.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

// retryAfter is the whole number of seconds until one token is available.
func retryAfter(l *rate.Limiter) int {
	r := l.Reserve()
	d := r.Delay()
	r.Cancel()
	if d == rate.InfDuration {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// RateLimit limits requests per client IP with a token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := store.get(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !l.Allow() {
				secs := retryAfter(l)
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
