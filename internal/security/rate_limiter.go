package security

import (
	"sync"
	"time"

	"github.com/raaihank/report-sentinel/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*client
	mu      sync.Mutex
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.Enabled || r.config.RequestsPerMin <= 0 {
		return true
	}

	now := r.now()
	return r.getClient(clientIP, now).limiter.AllowN(now, 1)
}

// getClient gets or creates the limiter for a client IP
func (r *RateLimiter) getClient(clientIP string, now time.Time) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[clientIP]
	if !exists {
		perSecond := rate.Limit(float64(r.config.RequestsPerMin) / 60.0)
		c = &client{limiter: rate.NewLimiter(perSecond, r.config.Burst)}
		r.clients[clientIP] = c
	}
	c.lastSeen = now
	return c
}

// Clients returns the number of tracked client IPs
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CleanupOldClients removes limiters idle for longer than maxIdle
func (r *RateLimiter) CleanupOldClients(maxIdle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// StartCleanupRoutine removes idle limiters until stop is closed
func (r *RateLimiter) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.CleanupOldClients(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
