package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 特征缓存测试
// =============================================================================

func sampleFeatures(windowID, modelVersion string) types.WindowFeatures {
	return types.WindowFeatures{
		WindowID:         windowID,
		ModelVersion:     modelVersion,
		PooledEmbedding:  []float64{0.1, 0.2, 0.3},
		TimestepTimes:    []float64{1, 2},
		TimestepFeatures: [][]float64{{0.1, 0.1, 0.1}, {0.2, 0.2, 0.2}},
		SemanticTokens:   []string{"red", "suv"},
		SourceConfidence: 0.85,
	}
}

func TestMemoryFeatureCache_L1RoundTrip(t *testing.T) {
	cache := NewMemoryFeatureCache(zap.NewNop())
	ctx := context.Background()

	_, err := cache.GetL1(ctx, "win-1", "v1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.SetL1(ctx, sampleFeatures("win-1", "v1")))

	got, err := cache.GetL1(ctx, "win-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "win-1", got.WindowID)
	assert.Equal(t, []string{"red", "suv"}, got.SemanticTokens)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

// 模型版本是键的一部分：升级后旧条目不可见
func TestMemoryFeatureCache_ModelVersionIsolation(t *testing.T) {
	cache := NewMemoryFeatureCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.SetL1(ctx, sampleFeatures("win-1", "v1")))

	_, err := cache.GetL1(ctx, "win-1", "v2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryFeatureCache_L2RoundTrip(t *testing.T) {
	cache := NewMemoryFeatureCache(zap.NewNop())
	ctx := context.Background()

	slice := types.ForegroundSlice{
		TrackID:       "track-1",
		ModelVersion:  "v1",
		TimestepTimes: []float64{10, 11},
		Tokens:        [][]float64{{0.5}, {0.6}},
	}
	require.NoError(t, cache.SetL2(ctx, slice))

	got, err := cache.GetL2(ctx, "track-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, slice.TimestepTimes, got.TimestepTimes)

	_, err = cache.GetL2(ctx, "track-2", "v1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisFeatureCache) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cache, err := NewRedisFeatureCache(CacheOptions{
		Addr: mr.Addr(),
		TTL:  time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	return mr, cache
}

func TestRedisFeatureCache_RoundTrip(t *testing.T) {
	mr, cache := setupRedisCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	_, err := cache.GetL1(ctx, "win-9", "v1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.SetL1(ctx, sampleFeatures("win-9", "v1")))

	got, err := cache.GetL1(ctx, "win-9", "v1")
	require.NoError(t, err)
	assert.Equal(t, "win-9", got.WindowID)
	assert.InDelta(t, 0.85, got.SourceConfidence, 1e-9)
}

func TestRedisFeatureCache_Expiry(t *testing.T) {
	mr, cache := setupRedisCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.SetL1(ctx, sampleFeatures("win-ttl", "v1")))

	mr.FastForward(2 * time.Minute)

	_, err := cache.GetL1(ctx, "win-ttl", "v1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewFeatureCache_UnknownBackend(t *testing.T) {
	_, err := NewFeatureCache(CacheOptions{Backend: "memcached"}, zap.NewNop())
	assert.Error(t, err)
}
