package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"cloudpay-cashier/internal/http/response"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiter is a per-key token bucket refilled at limit/window.
type localLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	cleanup time.Time
}

func NewLocalLimiter() Limiter {
	return &localLimiter{entries: make(map[string]*localEntry)}
}

func (l *localLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > window {
				delete(l.entries, k)
			}
		}
		l.cleanup = now.Add(window)
	}

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		l.entries[key] = e
	}
	e.lastSeen = now

	res := e.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// RateLimit limits requests per client IP. Backend errors let the request
// through.
func RateLimit(limiter Limiter, limit int, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP(), limit, window)
		if err != nil {
			logger.Warn("rate limiter backend unavailable, allowing request", "ip", c.ClientIP(), "error", err.Error())
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", retryAfterHeader(retryAfter))
			response.Fail(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
