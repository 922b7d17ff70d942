package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// minIdleTTL bounds how long an unused key is remembered.
const minIdleTTL = 10 * time.Minute

// RateLimiter is a token bucket per key. Keys idle for longer than it takes
// their bucket to refill are evicted, which resets nothing.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration // 0 keeps keys forever
	now     func() time.Time

	limiters sync.Map // key -> *limiterEntry

	sweepMu   sync.Mutex
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}

	// with rps <= 0 a bucket never refills, so forgetting it would reset it
	var idleTTL time.Duration
	if rps > 0 {
		idleTTL = max(time.Duration(float64(burst)/rps*float64(time.Second)), minIdleTTL)
	}

	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	v, ok := rl.limiters.Load(key)
	if !ok {
		e := &limiterEntry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		v, _ = rl.limiters.LoadOrStore(key, e)
	}

	e := v.(*limiterEntry)
	e.lastSeen.Store(now.UnixNano())

	rl.sweep(now)
	return e.lim
}

// sweep drops idle keys at most once per idleTTL.
func (rl *RateLimiter) sweep(now time.Time) {
	if rl.idleTTL == 0 || !rl.sweepMu.TryLock() {
		return
	}
	defer rl.sweepMu.Unlock()

	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now

	cutoff := now.Add(-rl.idleTTL).UnixNano()
	rl.limiters.Range(func(k, v any) bool {
		if v.(*limiterEntry).lastSeen.Load() < cutoff {
			rl.limiters.CompareAndDelete(k, v)
		}
		return true
	})
}

// Middleware enforces the limit for the key keyFn derives; an empty key
// falls back to the client IP.
func (rl *RateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		now := rl.now()
		r := rl.limiterFor(key, now).ReserveN(now, 1)
		if !r.OK() {
			abort(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abort(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok {
		return "user:" + id
	}
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}
	return ip
}
