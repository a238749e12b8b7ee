package types

import "sort"

// SegmentFlag 时间定位阶段的失败标志。
// 标志只增不减：一旦在片段计算中置位就不会被清除。
type SegmentFlag string

const (
	FlagOcclusion           SegmentFlag = "occlusion"
	FlagLowMaskConfidence   SegmentFlag = "low_mask_confidence"
	FlagMultiActorAmbiguity SegmentFlag = "multi_actor_ambiguity"
)

// TemporalSegment 动作级时间片段
type TemporalSegment struct {
	SegmentID  string        `json:"segment_id"`
	ClipID     string        `json:"clip_id"`
	CameraID   string        `json:"camera_id"`
	TrackID    string        `json:"track_id"`
	Action     string        `json:"action"`
	TStart     float64       `json:"t_start"`
	TEnd       float64       `json:"t_end"`
	Confidence float64       `json:"confidence"`
	Flags      []SegmentFlag `json:"flags,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
}

// WithFlag returns a copy of the segment with the flag added.
// Flags are additive and deduplicated; the flag set stays sorted so
// repeated runs serialize identically.
func (s TemporalSegment) WithFlag(flag SegmentFlag) TemporalSegment {
	for _, existing := range s.Flags {
		if existing == flag {
			return s
		}
	}
	flags := make([]SegmentFlag, len(s.Flags), len(s.Flags)+1)
	copy(flags, s.Flags)
	flags = append(flags, flag)
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	s.Flags = flags
	return s
}

// HasFlag reports whether the segment carries the given flag.
func (s TemporalSegment) HasFlag(flag SegmentFlag) bool {
	for _, existing := range s.Flags {
		if existing == flag {
			return true
		}
	}
	return false
}

// Overlaps reports whether two segments overlap in time on the same clip.
func (s TemporalSegment) Overlaps(other TemporalSegment) bool {
	if s.ClipID != other.ClipID {
		return false
	}
	return !(other.TEnd < s.TStart || other.TStart > s.TEnd)
}
