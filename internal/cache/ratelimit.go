package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"moff.io/snap-bridge/pkg/errors"
)

// APILimiter limits calls per key with a redis backed GCRA.
type APILimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewAPILimiter(limiter *redis_rate.Limiter, perSecond int) *APILimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &APILimiter{limiter: limiter, limit: redis_rate.PerSecond(perSecond)}
}

// Allow reports whether key may proceed now and, when not, how long to wait.
func (l *APILimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, "snap-bridge:api:"+key, l.limit)
	if err != nil {
		return false, 0, errors.Wrap(err, "rate limit")
	}
	return res.Allowed > 0, res.RetryAfter, nil
}
