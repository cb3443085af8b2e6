package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/segfaultgame/engine/internal/telemetry"
)

// RateLimiter enforces a per-session submit rate. A process can only act on
// its buffered verb once per tick, so the window length tracks the shard's
// fastest tick cadence rather than a fixed wall-clock minute: submitting
// faster than the engine can ever consume buys the caller nothing but still
// needs rejecting before it reaches the supervisor's lock.
//
// Uses a fixed window per key: the window starts at the key's first call
// and counts calls until it expires, and expired windows are
// garbage-collected periodically.
type RateLimiter struct {
	mu       sync.RWMutex
	windows  map[string]*rateLimitWindow
	defaults RateLimitConfig
	window   time.Duration
	metrics  *telemetry.Metrics
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerWindow int // nominal submit() calls per tick window per session; reported by Stats, not enforced
	BurstSize         int // the per-window cap Allow enforces
}

type rateLimitWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter whose window length is the shard
// engine's fastest tick cadence: one real submit per tick is all a session
// can ever act on, so tickCadenceMinSec is the natural window boundary.
// metrics may be nil, in which case rejections are silently uncounted.
func NewRateLimiter(cfg RateLimitConfig, tickCadenceMinSec float64, metrics *telemetry.Metrics) *RateLimiter {
	if cfg.MaxCallsPerWindow == 0 {
		cfg.MaxCallsPerWindow = 1
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerWindow * 2
	}
	if tickCadenceMinSec <= 0 {
		tickCadenceMinSec = 1.0
	}

	rl := &RateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		defaults: cfg,
		window:   time.Duration(tickCadenceMinSec * float64(time.Second)),
		metrics:  metrics,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a submit() call from the given session key should be
// allowed. Returns true if within limits.
//
// Uses a read-first pattern: only acquires the write lock when a new
// window must be created or the window has expired. Existing-window
// checks use RLock to reduce contention under high concurrency.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.RLock()
	window, exists := rl.windows[key]
	if exists && now.Sub(window.windowStart) <= rl.window {
		window.count++
		count := window.count
		rl.mu.RUnlock()
		return count <= rl.defaults.BurstSize
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, exists = rl.windows[key]
	if exists && now.Sub(window.windowStart) <= rl.window {
		window.count++
		return window.count <= rl.defaults.BurstSize
	}

	rl.windows[key] = &rateLimitWindow{
		count:       1,
		windowStart: now,
	}
	return true
}

// Middleware returns an HTTP middleware that enforces per-session submit
// rate limiting. It keys on the X-Session-ID header as the client sent it
// (the transport layer neither sets nor verifies it), falling back to
// "anonymous" when the header is absent.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-ID")
		if sessionID == "" {
			sessionID = "anonymous"
		}

		if !rl.Allow(sessionID) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitRejection(r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":1}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanup periodically removes expired windows to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	interval := rl.window * 10
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 2*rl.window {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_windows":       len(rl.windows),
		"max_calls_per_window": rl.defaults.MaxCallsPerWindow,
		"burst_size":           rl.defaults.BurstSize,
		"window_seconds":       rl.window.Seconds(),
	}
}
