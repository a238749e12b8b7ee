package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 💾 分层特征缓存
// =============================================================================
// L1 缓存窗口级特征（池化嵌入 + 时间步特征），键为 (window_id, model_version)；
// L2 缓存前景实体切片，键为 (track_id, model_version)。
// 模型版本升级后旧版本条目天然失配，不会被误用。

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// CacheKey 规范化缓存键：标识符与模型版本共同决定一个条目
func CacheKey(id, modelVersion string) string {
	return fmt.Sprintf("%s|%s", id, modelVersion)
}

// FeatureCache 分层特征缓存接口
type FeatureCache interface {
	// GetL1 读取窗口级特征，未命中返回 ErrCacheMiss
	GetL1(ctx context.Context, windowID, modelVersion string) (types.WindowFeatures, error)

	// SetL1 写入窗口级特征
	SetL1(ctx context.Context, features types.WindowFeatures) error

	// GetL2 读取前景实体切片，未命中返回 ErrCacheMiss
	GetL2(ctx context.Context, trackID, modelVersion string) (types.ForegroundSlice, error)

	// SetL2 写入前景实体切片
	SetL2(ctx context.Context, slice types.ForegroundSlice) error

	// Stats 返回累计命中/未命中计数
	Stats() (hits, misses int64)

	// Close 释放底层资源
	Close() error
}

// MemoryFeatureCache 进程内分层缓存
type MemoryFeatureCache struct {
	mu     sync.RWMutex
	l1     map[string]types.WindowFeatures
	l2     map[string]types.ForegroundSlice
	hits   atomic.Int64
	misses atomic.Int64
	logger *zap.Logger
}

// NewMemoryFeatureCache 创建进程内缓存
func NewMemoryFeatureCache(logger *zap.Logger) *MemoryFeatureCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryFeatureCache{
		l1:     make(map[string]types.WindowFeatures),
		l2:     make(map[string]types.ForegroundSlice),
		logger: logger.With(zap.String("component", "feature_cache")),
	}
}

func (c *MemoryFeatureCache) GetL1(_ context.Context, windowID, modelVersion string) (types.WindowFeatures, error) {
	c.mu.RLock()
	features, ok := c.l1[CacheKey(windowID, modelVersion)]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return types.WindowFeatures{}, ErrCacheMiss
	}
	c.hits.Add(1)
	return features, nil
}

func (c *MemoryFeatureCache) SetL1(_ context.Context, features types.WindowFeatures) error {
	c.mu.Lock()
	c.l1[CacheKey(features.WindowID, features.ModelVersion)] = features
	c.mu.Unlock()
	return nil
}

func (c *MemoryFeatureCache) GetL2(_ context.Context, trackID, modelVersion string) (types.ForegroundSlice, error) {
	c.mu.RLock()
	slice, ok := c.l2[CacheKey(trackID, modelVersion)]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return types.ForegroundSlice{}, ErrCacheMiss
	}
	c.hits.Add(1)
	return slice, nil
}

func (c *MemoryFeatureCache) SetL2(_ context.Context, slice types.ForegroundSlice) error {
	c.mu.Lock()
	c.l2[CacheKey(slice.TrackID, slice.ModelVersion)] = slice
	c.mu.Unlock()
	return nil
}

func (c *MemoryFeatureCache) Stats() (int64, int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *MemoryFeatureCache) Close() error { return nil }

// NewFeatureCache 按配置选择缓存后端
func NewFeatureCache(cfg CacheOptions, logger *zap.Logger) (FeatureCache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryFeatureCache(logger), nil
	case "redis":
		return NewRedisFeatureCache(cfg, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig, "unknown cache backend: "+cfg.Backend)
	}
}

// CacheOptions 缓存后端参数
type CacheOptions struct {
	Backend  string
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}
