package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	t.Parallel()
	b := New(3, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Wait(ctx), "token %d", i)
	}
}

func TestTokenBucketBlocksWhenExhausted(t *testing.T) {
	t.Parallel()
	b := New(1, 100) // 100/sec refill, 10ms per token
	ctx := context.Background()
	require.NoError(t, b.Wait(ctx), "first Wait")

	start := time.Now()
	require.NoError(t, b.Wait(ctx), "second Wait")
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond, "expected to wait for refill")
}

func TestPolicyValidateRejectsZeroFields(t *testing.T) {
	t.Parallel()
	require.NoError(t, Policy{Capacity: 10, RatePerSecond: 5}.Validate("rate_limit.order"))
	require.Error(t, Policy{Capacity: 0, RatePerSecond: 5}.Validate("rate_limit.order"))
	require.Error(t, Policy{Capacity: 10, RatePerSecond: 0}.Validate("rate_limit.order"))
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	b := New(1, 0.001) // effectively never refills within test timeframe
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Wait(ctx), "first Wait should succeed immediately")
	require.Error(t, b.Wait(ctx), "expected context deadline error on second Wait")
}
