package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassonic/atlas/internal/config"
)

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.1", clientIP("192.168.1.1:12345"))
	assert.Equal(t, "::1", clientIP("[::1]:80"))
	assert.Equal(t, "192.168.1.1", clientIP("192.168.1.1"))
}

func TestAuthRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	l := newAuthRateLimiter()
	assert.True(t, l.allow("192.168.1.1:1"))

	for i := 0; i < authRateMaxFails-1; i++ {
		l.recordFailure("192.168.1.1:1")
	}
	assert.True(t, l.allow("192.168.1.1:2"))

	l.recordFailure("192.168.1.1:3")
	assert.False(t, l.allow("192.168.1.1:4"))
	assert.True(t, l.allow("192.168.1.2:1"), "other addresses are unaffected")
}

func TestAuthRateLimiter_FailuresExpire(t *testing.T) {
	now := time.Now()
	l := newAuthRateLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		l.recordFailure("10.0.0.1:1")
	}
	assert.False(t, l.allow("10.0.0.1:1"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, l.allow("10.0.0.1:1"))
	assert.Empty(t, l.failures)
}

func TestAuthRateLimiter_EvictsOldestWhenFull(t *testing.T) {
	now := time.Now()
	l := newAuthRateLimiter()
	l.now = func() time.Time { return now }

	l.failures["oldest"] = []time.Time{now.Add(-time.Minute)}
	for i := 1; i < maxTrackedIPs; i++ {
		l.failures[fmt.Sprintf("10.0.%d.%d", i/256, i%256)] = []time.Time{now}
	}
	require.Len(t, l.failures, maxTrackedIPs)

	l.recordFailure("10.9.9.9:1")
	assert.Len(t, l.failures, maxTrackedIPs)
	assert.NotContains(t, l.failures, "oldest")
	assert.Contains(t, l.failures, "10.9.9.9")
}

func TestRequestLimiter(t *testing.T) {
	assert.Nil(t, newRequestLimiter(config.RateLimitConfig{}))
	var disabled *requestLimiter
	assert.True(t, disabled.allow("1.2.3.4:1"))

	now := time.Now()
	l := newRequestLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("1.2.3.4:1"))
	assert.True(t, l.allow("1.2.3.4:2"))
	assert.False(t, l.allow("1.2.3.4:3"), "burst exhausted")
	assert.True(t, l.allow("5.6.7.8:1"), "buckets are per address")

	now = now.Add(time.Second)
	assert.True(t, l.allow("1.2.3.4:4"), "bucket refills")
}

func TestRequestLimiter_DropsIdleClients(t *testing.T) {
	now := time.Now()
	l := newRequestLimiter(config.RateLimitConfig{RequestsPerSecond: 5})
	l.now = func() time.Time { return now }

	l.allow("1.1.1.1:1")
	require.Len(t, l.clients, 1)

	now = now.Add(limiterIdleTTL + time.Minute)
	l.allow("2.2.2.2:1")
	assert.NotContains(t, l.clients, "1.1.1.1")
	assert.Contains(t, l.clients, "2.2.2.2")
}
