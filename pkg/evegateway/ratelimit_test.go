package evegateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	// Two tokens, refilling one per second: the first two permits are
	// immediate, the third waits roughly a second
	limiter := NewRateLimiter(2, 1)

	start := time.Now()
	require.NoError(t, limiter.WaitForPermission(context.Background()))
	require.NoError(t, limiter.WaitForPermission(context.Background()))
	assert.Less(t, time.Since(start), 200*time.Millisecond, "burst permits must not wait")

	require.NoError(t, limiter.WaitForPermission(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 800*time.Millisecond, "third permit must wait for a refill")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRateLimiterTryAcquire(t *testing.T) {
	limiter := NewRateLimiter(1, 0.001)

	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire(), "bucket is empty until the next refill")
}

func TestRateLimiterContextCancel(t *testing.T) {
	limiter := NewRateLimiter(1, 0.001)
	require.NoError(t, limiter.WaitForPermission(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.WaitForPermission(ctx)
	assert.Error(t, err, "an empty bucket with a cancelled context must not block forever")
}
