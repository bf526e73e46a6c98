package ratelimitsvc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core"
)

func TestLimiter_Allow(t *testing.T) {
	rateConf := core.RateLimitConfig{Limit: 3, Period: time.Minute, Prefix: "test:"}

	tests := []struct {
		name      string
		redisConf func(t *testing.T) core.RedisConfig
	}{
		{name: "memory", redisConf: func(t *testing.T) core.RedisConfig { return core.RedisConfig{} }},
		{
			name: "redis",
			redisConf: func(t *testing.T) core.RedisConfig {
				return core.RedisConfig{Addr: miniredis.RunT(t).Addr()}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLimiter(tt.redisConf(t), rateConf)
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })

			ctx := context.Background()
			for i := int64(1); i <= rateConf.Limit; i++ {
				res, err := l.Allow(ctx, "10.0.0.1")
				require.NoError(t, err)
				assert.False(t, res.Reached, "request %d", i)
				assert.Equal(t, rateConf.Limit-i, res.Remaining)
			}

			res, err := l.Allow(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, res.Reached)
			assert.EqualValues(t, 0, res.Remaining)
			assert.True(t, res.Reset.After(time.Now().Add(-time.Second)))

			// keys are counted apart
			res, err = l.Allow(ctx, "10.0.0.2")
			require.NoError(t, err)
			assert.False(t, res.Reached)
		})
	}
}

func TestNewLimiter_invalidRate(t *testing.T) {
	_, err := NewLimiter(core.RedisConfig{}, core.RateLimitConfig{Limit: 0, Period: time.Minute})
	assert.Error(t, err)
}
