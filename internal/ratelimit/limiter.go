package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientbilling/internal/config"
)

const keyEndpointClient = "clientbilling:ratelimit:%s:%s"

// Limiter throttles inbound requests per endpoint and client address. A nil
// Limiter allows everything.
type Limiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewLimiter returns nil when limiting is disabled or Redis is absent.
func NewLimiter(cfg config.Config, client *redis.Client) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, fmt.Errorf("%w: rate and burst must be positive", ErrInvalidLimit)
	}
	return &Limiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.Rate,
		burst:  limitCfg.Burst,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *Limiter) Allow(ctx context.Context, endpoint, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEndpointClient, strings.TrimSpace(endpoint), strings.TrimSpace(client))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
