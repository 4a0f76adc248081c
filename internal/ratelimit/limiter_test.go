package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientbilling/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func limitConfig(rate float64, burst int) config.Config {
	return config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: rate, Burst: burst}}
}

func TestNewLimiterDisabled(t *testing.T) {
	l, err := NewLimiter(config.Config{}, newRedis(t))
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = NewLimiter(limitConfig(1, 1), nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	res, err := l.Allow(context.Background(), "api", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewLimiterRejectsNonPositiveLimits(t *testing.T) {
	_, err := NewLimiter(limitConfig(0, 5), newRedis(t))
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestLimiterExhaustsBurst(t *testing.T) {
	l, err := NewLimiter(limitConfig(0.01, 2), newRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "webhooks.stripe", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Limit)
	}

	res, err := l.Allow(ctx, "webhooks.stripe", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Positive(t, res.RetryAfter)

	other, err := l.Allow(ctx, "webhooks.stripe", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	api, err := l.Allow(ctx, "api", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, api.Allowed)
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, ErrNotConfigured)

	bucket := NewTokenBucket(newRedis(t))
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	require.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
}
