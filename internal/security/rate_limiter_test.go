package security

import (
	"testing"
	"time"

	"github.com/raaihank/report-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 3})
	limiter.now = fixedClock(&now)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
	assert.Equal(t, 0, limiter.Clients())
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	limiter.now = fixedClock(&now)

	limiter.Allow("10.0.0.1")
	now = now.Add(45 * time.Minute)
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.Clients())

	now = now.Add(30 * time.Minute)
	limiter.CleanupOldClients(time.Hour)
	assert.Equal(t, 1, limiter.Clients())
}
