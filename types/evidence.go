package types

// FrameRange 证据覆盖的时间范围（秒）
type FrameRange struct {
	TStart float64 `json:"t_start"`
	TEnd   float64 `json:"t_end"`
}

// EvidenceRef 指向可验证原始证据的引用。
// 每条承载断言的边或 claim 必须携带至少一条 EvidenceRef，这是硬不变量。
type EvidenceRef struct {
	ClipID       string     `json:"clip_id"`
	CameraID     string     `json:"camera_id"`
	FrameRange   FrameRange `json:"frame_range"`
	OverlayURI   string     `json:"overlay_uri"`
	EmbeddingID  string     `json:"embedding_id"`
	ModelVersion string     `json:"model_version"`
}

// Key returns the deduplication key for evidence union merges.
func (r EvidenceRef) Key() string {
	return r.OverlayURI + "|" + r.EmbeddingID + "|" +
		formatFloat(r.FrameRange.TStart) + "|" + formatFloat(r.FrameRange.TEnd)
}

// MergeEvidence unions two evidence sets, deduplicating by Key while
// preserving first-seen order.
func MergeEvidence(existing, incoming []EvidenceRef) []EvidenceRef {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]EvidenceRef, 0, len(existing)+len(incoming))
	for _, ref := range existing {
		if !seen[ref.Key()] {
			seen[ref.Key()] = true
			merged = append(merged, ref)
		}
	}
	for _, ref := range incoming {
		if !seen[ref.Key()] {
			seen[ref.Key()] = true
			merged = append(merged, ref)
		}
	}
	return merged
}

// Claim 证据链上的单条断言，发布后只读。
// 一条 claim 恰好对应一条图边或一次节点观测。
type Claim struct {
	ClaimID      string        `json:"claim_id"`
	Text         string        `json:"text"`
	EntityIDs    []string      `json:"entity_ids"`
	CameraID     string        `json:"camera_id"`
	TStart       float64       `json:"t_start"`
	TEnd         float64       `json:"t_end"`
	Confidence   float64       `json:"confidence"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

// RedactionNotice 被拒绝叙述的 claim 的显式标记
type RedactionNotice struct {
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

// SynthesisOutput 最终的证据绑定回答
type SynthesisOutput struct {
	Summary          string            `json:"summary"`
	Claims           []Claim           `json:"claims"`
	EvidenceAppendix []string          `json:"evidence_appendix,omitempty"`
	Redactions       []RedactionNotice `json:"redactions,omitempty"`
}
