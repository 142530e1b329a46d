package livequery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/model"
)

// Cache memoizes inflation-reward lookups. Cache misses are cheap; cache
// errors are treated as misses so a flaky cache never fails a run.
type Cache interface {
	GetReward(ctx context.Context, epoch model.Epoch, stakeAccount string) (uint64, bool)
	SetReward(ctx context.Context, epoch model.Epoch, stakeAccount string, amount uint64)
}

// RedisCache stores rewards in Redis. Inflation rewards for a finalized
// epoch are immutable, so a long TTL only bounds storage, not correctness.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{
		rdb: redis.NewClient(opts),
		ttl: 30 * 24 * time.Hour,
	}, nil
}

func rewardKey(epoch model.Epoch, stakeAccount string) string {
	return fmt.Sprintf("poolbench:inflation:%d:%s", epoch, stakeAccount)
}

func (c *RedisCache) GetReward(ctx context.Context, epoch model.Epoch, stakeAccount string) (uint64, bool) {
	amount, err := c.rdb.Get(ctx, rewardKey(epoch, stakeAccount)).Uint64()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).Debug("Reward cache read failed")
		}
		return 0, false
	}
	return amount, true
}

func (c *RedisCache) SetReward(ctx context.Context, epoch model.Epoch, stakeAccount string, amount uint64) {
	if err := c.rdb.Set(ctx, rewardKey(epoch, stakeAccount), amount, c.ttl).Err(); err != nil {
		logrus.WithError(err).Debug("Reward cache write failed")
	}
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }
