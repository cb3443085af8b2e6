package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllow_PermitsUpToBurstSizeWithinWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerWindow: 1, BurstSize: 5}, 60, nil)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("session-1"))
	}
	assert.False(t, rl.Allow("session-1"))
}

func TestAllow_TracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerWindow: 1, BurstSize: 1}, 60, nil)

	assert.True(t, rl.Allow("session-1"))
	assert.True(t, rl.Allow("session-2"))
	assert.False(t, rl.Allow("session-1"))
}

func TestStats_ReportsActiveWindows(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerWindow: 1, BurstSize: 10}, 60, nil)
	rl.Allow("session-1")
	rl.Allow("session-2")

	stats := rl.Stats()
	assert.Equal(t, 2, stats["active_windows"])
}

func TestNewRateLimiter_WindowTracksTickCadence(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerWindow: 1, BurstSize: 1}, 2.5, nil)
	assert.Equal(t, 2.5, rl.window.Seconds())
}
