package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() RateLimits {
	return RateLimits{
		PerMinute:   5,
		PerHour:     100,
		PerDay:      1000,
		Burst:       0, // disabled for the per-minute scenario
		BurstWindow: 30 * time.Second,
		Cooldown:    5 * time.Minute,
	}
}

func TestRateLimiterCooldownScenario(t *testing.T) {
	// 5 calls/minute; the 6th call within one second is refused with the
	// cooldown action, and nothing succeeds until 5 minutes elapse.
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewRateLimiter(testLimits(), clock)

	for i := 0; i < 5; i++ {
		st := limiter.Allow()
		require.True(t, st.Safe, "call %d should be allowed", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	st := limiter.Allow()
	require.False(t, st.Safe, "6th call must be refused")
	assert.Equal(t, ActionCooldown, st.RecommendedAction)
	assert.Equal(t, SeverityCritical, st.Severity)
	require.NotNil(t, st.ExpiresAt)

	// Nothing clears the breaker early.
	clock.Advance(4 * time.Minute)
	assert.False(t, limiter.Allow().Safe)
	assert.False(t, limiter.Check().Safe)
	assert.True(t, limiter.BreakerOpen())

	// Strictly on the timer it expires.
	clock.Advance(time.Minute + time.Second)
	assert.False(t, limiter.BreakerOpen())
	assert.True(t, limiter.Allow().Safe)
}

func TestRateLimiterBurstWindow(t *testing.T) {
	limits := testLimits()
	limits.PerMinute = 100
	limits.Burst = 3
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewRateLimiter(limits, clock)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow().Safe)
	}
	st := limiter.Allow()
	require.False(t, st.Safe)
	assert.Contains(t, st.Reason, "burst")
}

func TestRateLimiterWindowsSlide(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewRateLimiter(testLimits(), clock)

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow().Safe)
	}
	// Old calls age out of the minute window.
	clock.Advance(61 * time.Second)
	assert.True(t, limiter.Allow().Safe)
}

func TestRateLimiterCheckDoesNotRecord(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewRateLimiter(testLimits(), clock)

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Check().Safe)
	}
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow().Safe)
	}
}
