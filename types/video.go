package types

// CameraType 摄像机类型
type CameraType string

const (
	CameraStatic CameraType = "static"
	CameraMoving CameraType = "moving"
)

// Location 摄像机所处区域
type Location string

const (
	LocationExterior Location = "exterior"
	LocationInterior Location = "interior"
)

// FrameObservation 单帧观测，作为确定性适配器的输入信号。
type FrameObservation struct {
	Timestamp        float64  `json:"timestamp"`
	Objects          []string `json:"objects,omitempty"`
	Actions          []string `json:"actions,omitempty"`
	BackgroundMotion float64  `json:"background_motion"`
}

// TimeSpan 元数据中预先标注的活动时间段
type TimeSpan struct {
	TStart float64 `json:"t_start"`
	TEnd   float64 `json:"t_end"`
}

// ClipMetadata carries optional upstream metadata attached to a clip.
// When motion vectors or pre-annotated active windows are present the
// ingestion router prefers the metadata-synchronized route.
type ClipMetadata struct {
	HasMotionVectors bool       `json:"has_motion_vectors,omitempty"`
	ActiveWindows    []TimeSpan `json:"active_windows,omitempty"`
}

// Clip 视频片段及其帧观测序列
type Clip struct {
	ClipID          string             `json:"clip_id"`
	CameraID        string             `json:"camera_id"`
	CameraType      CameraType         `json:"camera_type"`
	Location        Location           `json:"location"`
	DurationSeconds float64            `json:"duration_seconds"`
	Frames          []FrameObservation `json:"frames"`
	Metadata        ClipMetadata       `json:"metadata"`
}

// FramesBetween returns the frames whose timestamps fall inside [tStart, tEnd].
func (c Clip) FramesBetween(tStart, tEnd float64) []FrameObservation {
	out := make([]FrameObservation, 0, len(c.Frames))
	for _, frame := range c.Frames {
		if frame.Timestamp >= tStart && frame.Timestamp <= tEnd {
			out = append(out, frame)
		}
	}
	return out
}

// CameraTopology 摄像机邻接拓扑：camera_id -> 可直达的相邻摄像机
type CameraTopology map[string][]string

// Adjacent reports whether two cameras are direct topology neighbors.
func (t CameraTopology) Adjacent(from, to string) bool {
	for _, neighbor := range t[from] {
		if neighbor == to {
			return true
		}
	}
	return false
}

// QueryRequest 一次完整查询的输入：查询文本 + 片段清单 + 拓扑
type QueryRequest struct {
	QueryID        string         `json:"query_id"`
	QueryText      string         `json:"query_text"`
	Clips          []Clip         `json:"clips"`
	CameraTopology CameraTopology `json:"camera_topology,omitempty"`
}
