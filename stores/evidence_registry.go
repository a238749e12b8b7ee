package stores

import (
	"sync"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧾 证据登记表
// =============================================================================
// 各阶段产出的证据引用按载体标识登记，供图写入与叙述阶段按需取用。
// 登记是幂等的：重复的引用按 Key 去重。

// EvidenceRegistry 证据登记表
type EvidenceRegistry struct {
	mu   sync.RWMutex
	byID map[string][]types.EvidenceRef
}

// NewEvidenceRegistry 创建证据登记表
func NewEvidenceRegistry() *EvidenceRegistry {
	return &EvidenceRegistry{byID: make(map[string][]types.EvidenceRef)}
}

// Register 为载体（轨迹、片段、实体）追加证据引用
func (r *EvidenceRegistry) Register(carrierID string, refs ...types.EvidenceRef) {
	if len(refs) == 0 {
		return
	}
	r.mu.Lock()
	r.byID[carrierID] = types.MergeEvidence(r.byID[carrierID], refs)
	r.mu.Unlock()
}

// Lookup 返回载体登记过的全部证据引用
func (r *EvidenceRegistry) Lookup(carrierID string) []types.EvidenceRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := r.byID[carrierID]
	return append([]types.EvidenceRef(nil), refs...)
}

// Collect 汇总多个载体的证据引用并去重
func (r *EvidenceRegistry) Collect(carrierIDs ...string) []types.EvidenceRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.EvidenceRef
	for _, id := range carrierIDs {
		out = types.MergeEvidence(out, r.byID[id])
	}
	return out
}
