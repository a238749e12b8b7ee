package stores

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🔍 关键帧向量索引
// =============================================================================

// KeyframeMatch 一次相似度检索的命中
type KeyframeMatch struct {
	Record types.KeyframeRecord
	Score  float64
}

// KeyframeIndex 进程内关键帧余弦相似度索引
type KeyframeIndex struct {
	mu      sync.RWMutex
	records []types.KeyframeRecord
	byID    map[string]int
	logger  *zap.Logger
}

// NewKeyframeIndex 创建关键帧索引
func NewKeyframeIndex(logger *zap.Logger) *KeyframeIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyframeIndex{
		byID:   make(map[string]int),
		logger: logger.With(zap.String("component", "keyframe_index")),
	}
}

// Add 批量写入关键帧记录，同 frame_id 的记录被覆盖
func (idx *KeyframeIndex) Add(_ context.Context, records []types.KeyframeRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, record := range records {
		if pos, ok := idx.byID[record.FrameID]; ok {
			idx.records[pos] = record
			continue
		}
		idx.byID[record.FrameID] = len(idx.records)
		idx.records = append(idx.records, record)
	}
	return nil
}

// Search 返回与查询向量最相似的 topK 条记录。
// 相同分数按 frame_id 升序决胜，保证结果确定。
func (idx *KeyframeIndex) Search(_ context.Context, query []float64, topK int) ([]KeyframeMatch, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]KeyframeMatch, 0, len(idx.records))
	for _, record := range idx.records {
		matches = append(matches, KeyframeMatch{
			Record: record,
			Score:  adapters.CosineUnit(query, record.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.FrameID < matches[j].Record.FrameID
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Records 返回全部记录的快照，保持写入顺序
func (idx *KeyframeIndex) Records() []types.KeyframeRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]types.KeyframeRecord(nil), idx.records...)
}

// Size 返回索引中的记录数
func (idx *KeyframeIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}
