package types

import "time"

// Stage 编排状态机的阶段标识
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageRetrieve   Stage = "retrieve"
	StageGround     Stage = "ground"
	StageResolve    Stage = "resolve"
	StageLocalize   Stage = "localize"
	StageMemorize   Stage = "memorize"
	StageSynthesize Stage = "synthesize"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// PipelineStages is the canonical forward execution order.
var PipelineStages = []Stage{
	StageIngest,
	StageRetrieve,
	StageGround,
	StageResolve,
	StageLocalize,
	StageMemorize,
	StageSynthesize,
}

// TransitionEvent 状态机转移审计记录
type TransitionEvent struct {
	From   Stage  `json:"from"`
	To     Stage  `json:"to"`
	Reason string `json:"reason"`
}

// StageMetrics 单次运行的阶段级指标
type StageMetrics struct {
	StageDurations map[Stage]time.Duration `json:"stage_durations"`
	StageRetries   map[Stage]int           `json:"stage_retries,omitempty"`
	CacheHits      int64                   `json:"cache_hits"`
	CacheMisses    int64                   `json:"cache_misses"`
}

// NewStageMetrics creates an empty metrics record.
func NewStageMetrics() *StageMetrics {
	return &StageMetrics{
		StageDurations: make(map[Stage]time.Duration),
		StageRetries:   make(map[Stage]int),
	}
}

// RunResult 一次查询运行的完整结构化输出。
// 运行结束时总是返回该对象：说明解决了什么、什么仍然
// unresolved/uncertain、各阶段的失败标志——绝不裸抛异常。
type RunResult struct {
	RunID            string            `json:"run_id"`
	QueryID          string            `json:"query_id"`
	QueryText        string            `json:"query_text"`
	FinalStage       Stage             `json:"final_stage"`
	ActiveWindows    []Window          `json:"active_windows,omitempty"`
	ValidatedWindows []Window          `json:"validated_windows,omitempty"`
	Tracklets        []Tracklet        `json:"tracklets,omitempty"`
	EntityLinks      []EntityLink      `json:"entity_links,omitempty"`
	Segments         []TemporalSegment `json:"temporal_segments,omitempty"`
	GraphNodes       []GraphNode       `json:"graph_nodes,omitempty"`
	GraphEdges       []GraphEdge       `json:"graph_edges,omitempty"`
	Synthesis        *SynthesisOutput  `json:"synthesis,omitempty"`
	DegradedStages   []Stage           `json:"degraded_stages,omitempty"`
	BlockedClaims    []RedactionNotice `json:"blocked_claims,omitempty"`
	Transitions      []TransitionEvent `json:"transitions,omitempty"`
	Metrics          *StageMetrics     `json:"metrics"`
	FailureReason    string            `json:"failure_reason,omitempty"`
}

// Unresolved returns the entity links that stayed in the explicit
// unresolved sentinel state.
func (r *RunResult) Unresolved() []EntityLink {
	var out []EntityLink
	for _, link := range r.EntityLinks {
		if !link.Resolved {
			out = append(out, link)
		}
	}
	return out
}
