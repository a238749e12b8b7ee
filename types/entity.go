package types

// EntityLink 实体归并结果。
// 一个身份要么 resolved（稳定 ID + 置信度达标），要么 unresolved
// （显式哨兵状态）——不存在被悄悄合并的第三种状态。
type EntityLink struct {
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	Label      string     `json:"label"`
	TrackIDs   []string   `json:"track_ids"`
	Confidence float64    `json:"confidence"`
	Resolved   bool       `json:"resolved"`
	// Reason records why an identity stayed unresolved
	// (for example "topology_veto" or "fused_below_threshold").
	Reason string `json:"reason,omitempty"`
}

// ContainsTrack reports whether the link covers the given track.
func (l EntityLink) ContainsTrack(trackID string) bool {
	for _, id := range l.TrackIDs {
		if id == trackID {
			return true
		}
	}
	return false
}
