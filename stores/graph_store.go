package stores

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🕸️ 图记忆存储
// =============================================================================
// 节点和边均以自然键幂等合并：同键重放合并证据并取置信度最大值，
// 不产生重复行。无证据的边写入被直接拒绝。

// GraphStore 图记忆接口
type GraphStore interface {
	// UpsertNode 按自然键写入或合并节点
	UpsertNode(ctx context.Context, node types.GraphNode) error

	// UpsertEdge 按自然键写入或合并边；无证据的边返回 ErrEvidenceIncomplete
	UpsertEdge(ctx context.Context, edge types.GraphEdge) error

	// Nodes 返回全部节点，按自然键排序
	Nodes(ctx context.Context) ([]types.GraphNode, error)

	// Edges 返回全部边，按自然键排序
	Edges(ctx context.Context) ([]types.GraphEdge, error)

	// Close 释放底层资源
	Close() error
}

// MemoryGraphStore 进程内图记忆
type MemoryGraphStore struct {
	mu     sync.RWMutex
	nodes  map[string]types.GraphNode
	edges  map[string]types.GraphEdge
	logger *zap.Logger
}

// NewMemoryGraphStore 创建进程内图记忆
func NewMemoryGraphStore(logger *zap.Logger) *MemoryGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryGraphStore{
		nodes:  make(map[string]types.GraphNode),
		edges:  make(map[string]types.GraphEdge),
		logger: logger.With(zap.String("component", "graph_store")),
	}
}

func (s *MemoryGraphStore) UpsertNode(_ context.Context, node types.GraphNode) error {
	key := node.NaturalKey()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[key]
	if !ok {
		s.nodes[key] = node
		return nil
	}
	s.nodes[key] = mergeNodes(existing, node)
	return nil
}

func (s *MemoryGraphStore) UpsertEdge(_ context.Context, edge types.GraphEdge) error {
	if len(edge.EvidenceRefs) == 0 {
		return types.NewError(types.ErrEvidenceIncomplete,
			"edge "+string(edge.Type)+" "+edge.From+"->"+edge.To+" carries no evidence")
	}

	key := edge.NaturalKey()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.edges[key]
	if !ok {
		s.edges[key] = edge
		return nil
	}
	s.edges[key] = mergeEdges(existing, edge)
	return nil
}

func (s *MemoryGraphStore) Nodes(_ context.Context) ([]types.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.nodes))
	for key := range s.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]types.GraphNode, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.nodes[key])
	}
	return out, nil
}

func (s *MemoryGraphStore) Edges(_ context.Context) ([]types.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.edges))
	for key := range s.edges {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]types.GraphEdge, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.edges[key])
	}
	return out, nil
}

func (s *MemoryGraphStore) Close() error { return nil }

// mergeNodes 合并同键节点：属性补全，置信度取最大
func mergeNodes(existing, incoming types.GraphNode) types.GraphNode {
	if incoming.Confidence > existing.Confidence {
		existing.Confidence = incoming.Confidence
		if incoming.Label != "" {
			existing.Label = incoming.Label
		}
	}
	if existing.Properties == nil && len(incoming.Properties) > 0 {
		existing.Properties = make(map[string]any, len(incoming.Properties))
	}
	for k, v := range incoming.Properties {
		if _, ok := existing.Properties[k]; !ok {
			existing.Properties[k] = v
		}
	}
	return existing
}

// mergeEdges 合并同键边：证据并集去重，置信度取最大，时间窗取并
func mergeEdges(existing, incoming types.GraphEdge) types.GraphEdge {
	existing.EvidenceRefs = types.MergeEvidence(existing.EvidenceRefs, incoming.EvidenceRefs)
	if incoming.Confidence > existing.Confidence {
		existing.Confidence = incoming.Confidence
	}
	if incoming.TStart < existing.TStart {
		existing.TStart = incoming.TStart
	}
	if incoming.TEnd > existing.TEnd {
		existing.TEnd = incoming.TEnd
	}
	return existing
}

// NewGraphStore 按配置选择图后端
func NewGraphStore(backend, dsn string, logger *zap.Logger) (GraphStore, error) {
	switch backend {
	case "", "memory":
		return NewMemoryGraphStore(logger), nil
	case "sqlite":
		return NewSQLGraphStore(dsn, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig, "unknown graph backend: "+backend)
	}
}
