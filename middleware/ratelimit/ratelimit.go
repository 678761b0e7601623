package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// Config defines per endpoint group rate limit settings.
type Config struct {
	// Rate is the number of requests allowed per second.
	Rate rate.Limit
	// Burst is the maximum burst size.
	Burst int
	// KeyFunc picks the bucket for a request, defaults to the client IP
	KeyFunc func(router.Context) string
	// ErrorHandler is called when the bucket is empty
	ErrorHandler router.HandlerFunc
	// IdleTTL is how long an unused bucket is kept around
	IdleTTL time.Duration
	// CleanupInterval is how often idle buckets are swept
	CleanupInterval time.Duration
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides keyed rate limiting, by client IP unless configured otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	cfg      Config
	now      func() time.Time
}

// New creates a rate limiter. Idle buckets are swept until ctx is done.
func New(ctx context.Context, cfg Config) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = rate.Limit(1)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(ctx router.Context) string {
			return ctx.IP()
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(ctx router.Context) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"code":    "TOO_MANY_REQUESTS",
				"message": "Too many requests",
			})
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 3 * time.Minute
	}

	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		cfg:      cfg,
		now:      time.Now,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

// Allow reports whether a request for key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Len returns the number of tracked buckets
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, exists := rl.limiters[key]; exists {
		l.lastSeen = rl.now()
		return l.limiter
	}

	limiter := rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)
	rl.limiters[key] = &keyLimiter{limiter: limiter, lastSeen: rl.now()}
	return limiter
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	for key, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Middleware enforces the limit in front of the wrapped handler.
func (rl *RateLimiter) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if !rl.Allow(rl.cfg.KeyFunc(ctx)) {
				retryAfter := max(int(1.0/float64(rl.cfg.Rate)), 1)
				ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
				return rl.cfg.ErrorHandler(ctx)
			}
			return next(ctx)
		}
	}
}
