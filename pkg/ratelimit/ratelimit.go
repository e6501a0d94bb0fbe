// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// DefaultAPIConfig returns the default config for the compliance API:
// 20 req/s per caller, burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultDecisionConfig returns the config for the access-decision
// endpoint. Decisions are checked on nearly every record read by the
// clinical frontends, so the limits are much higher: 500 req/s per
// caller, burst of 1000.
func DefaultDecisionConfig() Config {
	return Config{
		Rate:            500,
		Burst:           1000,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// entry holds a rate limiter and last access time for one caller
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedRateLimiter implements per-caller rate limiting with automatic
// cleanup. Callers are keyed by actor id when the identity headers are
// present and by client IP otherwise.
type KeyedRateLimiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
}

// New creates a new per-caller rate limiter with the given configuration
func New(cfg Config) *KeyedRateLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	rl := &KeyedRateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request under the given key should be allowed
func (rl *KeyedRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// Middleware returns a Gin middleware that applies per-caller rate
// limiting, preferring the actor id over the client IP as the key.
func (rl *KeyedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Actor-Id")
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine
func (rl *KeyedRateLimiter) Stop() {
	close(rl.done)
}

// cleanup periodically removes stale entries
func (rl *KeyedRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *KeyedRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked callers (for testing/metrics)
func (rl *KeyedRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *KeyedRateLimiter) Config() Config {
	return rl.config
}
