package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key. Buckets of clients that
// stay quiet for IdleTimeout are dropped.
type Limiter struct {
	mu      sync.Mutex
	clients *cache.Cache

	limit rate.Limit
	burst int

	rejected atomic.Int64
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerSecond float64
	Burst             int
	IdleTimeout       time.Duration
	CleanupInterval   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             20,
		IdleTimeout:       10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	return &Limiter{
		clients: cache.New(config.IdleTimeout, config.CleanupInterval),
		limit:   rate.Limit(config.RequestsPerSecond),
		burst:   config.Burst,
	}
}

// Allow takes a token from the bucket of key.
func (rl *Limiter) Allow(key string) bool {
	if rl.bucket(key).Allow() {
		return true
	}
	rl.rejected.Add(1)
	return false
}

func (rl *Limiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.clients.Get(key); ok {
		l := v.(*rate.Limiter)
		// touch so the idle timeout restarts
		rl.clients.SetDefault(key, l)
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.SetDefault(key, l)
	return l
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	return rl.clients.ItemCount()
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	Rejected    int64
	ClientCount int64
}

// GetMetrics returns current rate limiting metrics
func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		Rejected:    rl.rejected.Load(),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// retryAfter is the whole number of seconds until one token is back.
func (rl *Limiter) retryAfter() string {
	secs := int(1 / float64(rl.limit))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Middleware creates HTTP middleware for rate limiting
func (rl *Limiter) Middleware(extractKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(extractKey(r)) {
				w.Header().Set("Retry-After", rl.retryAfter())
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
