package rest

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter caps requests per client IP over a fixed window. The notebook
// API's hot path is cell updates fired on every editor keystroke batch, so
// the limit should comfortably exceed a fast typist's save cadence; clients
// that blow past it are blocked for blockFor before counting restarts.
type RateLimiter struct {
	mu       sync.Mutex
	seen     map[string]*window
	limit    int
	span     time.Duration
	blockFor time.Duration
}

type window struct {
	count     int
	openedAt  time.Time
	blockedAt time.Time
}

func NewRateLimiter(limit int, span, blockFor time.Duration) *RateLimiter {
	rl := &RateLimiter{
		seen:     make(map[string]*window),
		limit:    limit,
		span:     span,
		blockFor: blockFor,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			respondErrorWithDetails(c, http.StatusTooManyRequests,
				"too many requests", "RATE_LIMIT_EXCEEDED",
				map[string]interface{}{"retry_after": int(rl.blockFor.Seconds())})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.seen[key]
	if !ok {
		rl.seen[key] = &window{count: 1, openedAt: now}
		return true
	}

	if !w.blockedAt.IsZero() {
		if now.Sub(w.blockedAt) < rl.blockFor {
			return false
		}
		*w = window{count: 1, openedAt: now}
		return true
	}

	if now.Sub(w.openedAt) > rl.span {
		*w = window{count: 1, openedAt: now}
		return true
	}

	w.count++
	if w.count > rl.limit {
		w.blockedAt = now
		return false
	}
	return true
}

// sweep drops stale entries so the map does not grow with every IP ever seen.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.seen {
			expired := w.blockedAt.IsZero() && now.Sub(w.openedAt) > rl.span
			unblocked := !w.blockedAt.IsZero() && now.Sub(w.blockedAt) > 2*rl.blockFor
			if expired || unblocked {
				delete(rl.seen, key)
			}
		}
		rl.mu.Unlock()
	}
}
