package stores

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 📦 制品存储
// =============================================================================
// 保存掩码叠加图等二进制制品并返回可引用的 URI。
// 证据引用只携带 URI，制品体不进入状态机。

// ArtifactStore 制品存储接口
type ArtifactStore interface {
	// Put 保存制品并返回其 URI
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get 按 URI 取回制品
	Get(ctx context.Context, uri string) ([]byte, error)
}

// MemoryArtifactStore 进程内制品存储
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	logger  *zap.Logger
}

// NewMemoryArtifactStore 创建进程内制品存储
func NewMemoryArtifactStore(logger *zap.Logger) *MemoryArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryArtifactStore{
		objects: make(map[string][]byte),
		logger:  logger.With(zap.String("component", "artifact_store")),
	}
}

func (s *MemoryArtifactStore) Put(_ context.Context, name string, data []byte) (string, error) {
	uri := "artifact://" + name
	s.mu.Lock()
	s.objects[uri] = append([]byte(nil), data...)
	s.mu.Unlock()
	return uri, nil
}

func (s *MemoryArtifactStore) Get(_ context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objects[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), data...), nil
}
