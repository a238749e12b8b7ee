package types

import "sort"

// EntityType distinguishes object/vehicle tracks from person tracks.
type EntityType string

const (
	EntityObject EntityType = "object"
	EntityPerson EntityType = "person"
)

// MaskFrame 单帧分割掩码观测。
// Coverage 为掩码相对画面的覆盖比例，用作前景加权。
type MaskFrame struct {
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
	Coverage   float64 `json:"coverage"`
	Confidence float64 `json:"confidence"`
}

// Tracklet 空间定位产出的掩码轨迹（masklet）。
// 由 Stage 3 独占创建并发布，下游只读不改。
type Tracklet struct {
	TrackID          string      `json:"track_id"`
	ClipID           string      `json:"clip_id"`
	CameraID         string      `json:"camera_id"`
	WindowID         string      `json:"window_id"`
	EntityType       EntityType  `json:"entity_type"`
	Label            string      `json:"label"`
	TStart           float64     `json:"t_start"`
	TEnd             float64     `json:"t_end"`
	FrameMasks       []MaskFrame `json:"frame_masks"`
	MedianConfidence float64     `json:"median_confidence"`
	OverlayURI       string      `json:"overlay_uri"`
	Fallback         bool        `json:"fallback,omitempty"`
}

// MedianMaskConfidence computes the median per-frame confidence of a
// mask sequence. Returns 0 for an empty sequence.
func MedianMaskConfidence(masks []MaskFrame) float64 {
	if len(masks) == 0 {
		return 0
	}
	values := make([]float64, len(masks))
	for i, m := range masks {
		values[i] = m.Confidence
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
