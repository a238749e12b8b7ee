package types

// RouteID identifies one of the four closed ingestion routing strategies.
type RouteID string

const (
	RouteMetaSync        RouteID = "meta_sync"
	RouteSigExAdaptive   RouteID = "sig_ex_adaptive"
	RouteCVState         RouteID = "cv_state"
	RouteBGMotionTrigger RouteID = "bg_motion_trigger"
)

// Window 候选时间窗口。
// Confidence 只能随新证据单调修正，任何阶段不得凭空抬高。
type Window struct {
	WindowID       string   `json:"window_id"`
	ClipID         string   `json:"clip_id"`
	CameraID       string   `json:"camera_id"`
	RouteID        RouteID  `json:"route_id,omitempty"`
	TStart         float64  `json:"t_start"`
	TEnd           float64  `json:"t_end"`
	Confidence     float64  `json:"confidence"`
	Reason         string   `json:"reason,omitempty"`
	SemanticTokens []string `json:"semantic_tokens,omitempty"`
}

// Overlap returns the length in seconds of the overlap with [tStart, tEnd].
func (w Window) Overlap(tStart, tEnd float64) float64 {
	lo := max(w.TStart, tStart)
	hi := min(w.TEnd, tEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// KeyframeRecord 关键帧索引记录（每个关键帧一条向量）
type KeyframeRecord struct {
	FrameID        string    `json:"frame_id"`
	WindowID       string    `json:"window_id"`
	ClipID         string    `json:"clip_id"`
	CameraID       string    `json:"camera_id"`
	Timestamp      float64   `json:"timestamp"`
	Embedding      []float64 `json:"embedding"`
	EmbeddingID    string    `json:"embedding_id"`
	SemanticTokens []string  `json:"semantic_tokens,omitempty"`
	RouteID        RouteID   `json:"route_id,omitempty"`
}

// WindowFeatures 窗口级特征（L1 缓存层载荷）：
// 池化向量 + 每时间步向量序列。
type WindowFeatures struct {
	WindowID         string      `json:"window_id"`
	ModelVersion     string      `json:"model_version"`
	PooledEmbedding  []float64   `json:"pooled_embedding"`
	TimestepTimes    []float64   `json:"timestep_times"`
	TimestepFeatures [][]float64 `json:"timestep_features"`
	SemanticTokens   []string    `json:"semantic_tokens,omitempty"`
	SourceConfidence float64     `json:"source_confidence"`
}

// ForegroundSlice 前景 token 切片（L2 缓存层载荷）：
// 某条轨迹在高分辨率下按掩码加权后的每时间步前景向量。
type ForegroundSlice struct {
	TrackID       string      `json:"track_id"`
	ModelVersion  string      `json:"model_version"`
	TimestepTimes []float64   `json:"timestep_times"`
	Tokens        [][]float64 `json:"tokens"`
}
