package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 💾 Redis 缓存后端
// =============================================================================

// RedisFeatureCache Redis 分层特征缓存
type RedisFeatureCache struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
	logger *zap.Logger
}

// NewRedisFeatureCache 创建 Redis 缓存并验证连接
func NewRedisFeatureCache(cfg CacheOptions, logger *zap.Logger) (*RedisFeatureCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to connect to redis").WithCause(err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	logger.Info("redis feature cache initialized", zap.String("addr", cfg.Addr))
	return &RedisFeatureCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "feature_cache")),
	}, nil
}

func (c *RedisFeatureCache) GetL1(ctx context.Context, windowID, modelVersion string) (types.WindowFeatures, error) {
	var features types.WindowFeatures
	if err := c.getJSON(ctx, "l1:"+CacheKey(windowID, modelVersion), &features); err != nil {
		return types.WindowFeatures{}, err
	}
	return features, nil
}

func (c *RedisFeatureCache) SetL1(ctx context.Context, features types.WindowFeatures) error {
	return c.setJSON(ctx, "l1:"+CacheKey(features.WindowID, features.ModelVersion), features)
}

func (c *RedisFeatureCache) GetL2(ctx context.Context, trackID, modelVersion string) (types.ForegroundSlice, error) {
	var slice types.ForegroundSlice
	if err := c.getJSON(ctx, "l2:"+CacheKey(trackID, modelVersion), &slice); err != nil {
		return types.ForegroundSlice{}, err
	}
	return slice, nil
}

func (c *RedisFeatureCache) SetL2(ctx context.Context, slice types.ForegroundSlice) error {
	return c.setJSON(ctx, "l2:"+CacheKey(slice.TrackID, slice.ModelVersion), slice)
}

func (c *RedisFeatureCache) getJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.misses.Add(1)
		return ErrCacheMiss
	}
	if err != nil {
		c.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	c.hits.Add(1)
	return nil
}

func (c *RedisFeatureCache) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (c *RedisFeatureCache) Stats() (int64, int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RedisFeatureCache) Close() error {
	return c.client.Close()
}
