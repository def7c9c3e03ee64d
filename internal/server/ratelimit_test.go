package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limiterWithClock(cfg RateLimitConfig, c *fakeClock) *RateLimiter {
	rl := NewRateLimiter(cfg)
	rl.now = c.now
	return rl
}

func TestRateLimiter_PerMinute(t *testing.T) {
	clock := newFakeClock()
	rl := limiterWithClock(RateLimitConfig{RequestsPerMinute: 2}, clock)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("a", 0))

	err := rl.CheckRateLimit("a", 0)
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, "minute", rateErr.Type)
	assert.Equal(t, 2, rateErr.Limit)
	assert.Equal(t, time.Minute, rateErr.RetryAfter)

	// Other clients are tracked separately.
	require.NoError(t, rl.CheckRateLimit("b", 0))

	clock.advance(time.Minute)
	assert.NoError(t, rl.CheckRateLimit("a", 0))
}

func TestRateLimiter_PerHour(t *testing.T) {
	clock := newFakeClock()
	rl := limiterWithClock(RateLimitConfig{RequestsPerHour: 3}, clock)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("a", 0))
		clock.advance(10 * time.Minute)
	}
	err := rl.CheckRateLimit("a", 0)
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, "hour", rateErr.Type)
	assert.Equal(t, 30*time.Minute, rateErr.RetryAfter)
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	clock := newFakeClock()
	rl := limiterWithClock(RateLimitConfig{MaxRequestsPerDay: 2, MaxDataPerDay: 100}, clock)

	require.NoError(t, rl.CheckRateLimit("a", 60))

	err := rl.CheckRateLimit("a", 50)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "data", quotaErr.Type)
	assert.Equal(t, int64(60), quotaErr.Used)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

	require.NoError(t, rl.CheckRateLimit("a", 40))
	err = rl.CheckRateLimit("a", 0)
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "requests", quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Used)

	clock.advance(14 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("a", 100))
}

func TestRateLimiter_RejectedRequestsAreNotCounted(t *testing.T) {
	clock := newFakeClock()
	rl := limiterWithClock(RateLimitConfig{RequestsPerMinute: 1}, clock)

	require.NoError(t, rl.CheckRateLimit("a", 10))
	require.Error(t, rl.CheckRateLimit("a", 10))

	usage := rl.GetUsage("a")
	assert.Equal(t, 1, usage.RequestsLastMinute)
	assert.Equal(t, 1, usage.RequestsToday)
	assert.Equal(t, int64(10), usage.BytesToday)
	assert.Equal(t, Usage{}, rl.GetUsage("unknown"))
}

func TestRateLimitErrors_Messages(t *testing.T) {
	rateErr := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 30s)", rateErr.Error())

	quotaErr := &QuotaExceededError{
		Type:   "data",
		Limit:  100,
		Used:   90,
		Resets: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "quota exceeded for data (used: 90, limit: 100, resets: 2026-03-15T00:00:00Z)", quotaErr.Error())
}
