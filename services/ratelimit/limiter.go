// Package ratelimitsvc throttles requests per client key, in memory or on Redis when one is configured.
package ratelimitsvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/trezcool/masomo-identity/core"
)

// Result describes the state of a key after a request was counted.
type Result struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
	Reached   bool
}

type Limiter struct {
	instance *limiter.Limiter
	client   *redis.Client
}

// NewLimiter stores counters on Redis when redisConf.Addr is set, otherwise in memory.
func NewLimiter(redisConf core.RedisConfig, rateConf core.RateLimitConfig) (*Limiter, error) {
	rate := limiter.Rate{Period: rateConf.Period, Limit: rateConf.Limit}
	if rate.Period <= 0 || rate.Limit <= 0 {
		return nil, errors.Errorf("invalid rate limit: %d per %v", rate.Limit, rate.Period)
	}

	if redisConf.Addr == "" {
		store := memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateConf.Prefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
		return &Limiter{instance: limiter.New(store, rate)}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisConf.Addr,
		Password: redisConf.Password,
		DB:       redisConf.DB,
	})
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   rateConf.Prefix,
		MaxRetry: 3,
	})
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "creating redis rate limit store")
	}
	return &Limiter{instance: limiter.New(store, rate), client: client}, nil
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	lctx, err := l.instance.Get(ctx, key)
	if err != nil {
		return Result{}, errors.Wrapf(err, "rate limiting %q", key)
	}
	return Result{
		Limit:     lctx.Limit,
		Remaining: lctx.Remaining,
		Reset:     time.Unix(lctx.Reset, 0).UTC(),
		Reached:   lctx.Reached,
	}, nil
}

func (l *Limiter) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
