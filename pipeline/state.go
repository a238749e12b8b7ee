package pipeline

import (
	"strings"
	"sync"

	"github.com/BaSui01/videorag/stores"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 📋 运行状态
// =============================================================================

// Mode 阶段执行模式，门禁失败后沿阶梯逐级升级
type Mode string

const (
	ModePrimary    Mode = "primary"    // 首次执行
	ModeDecomposed Mode = "decomposed" // 查询分解后重试
	ModeFallback   Mode = "fallback"   // 备用算子
	ModeDegraded   Mode = "degraded"   // 降级输出
)

// ScoredWindow 融合打分后的候选窗口
type ScoredWindow struct {
	Window    types.Window
	Features  types.WindowFeatures
	Score     float64
	PooledSim float64
	StepSim   float64
	TokenSim  float64
}

// RunState 一次查询运行的全部共享状态。
// 状态只增不删：每个阶段补充自己的键，下游阶段按契约读取。
type RunState struct {
	mu sync.Mutex

	RunID   string
	Request types.QueryRequest

	// 阶段一产出
	NormalizedQuery string
	QueryTokens     []string
	ActiveWindows   []types.Window

	// 阶段二产出
	CandidateWindows []ScoredWindow
	ValidatedWindows []ScoredWindow
	DecomposedTerms  []string

	// 阶段三产出
	GroundedTracks []types.Tracklet

	// 阶段四产出
	EntityLinks []types.EntityLink

	// 阶段五产出
	TemporalSegments []types.TemporalSegment

	// 阶段六产出
	GraphNodes []types.GraphNode
	GraphEdges []types.GraphEdge

	// 阶段七产出
	Synthesis     *types.SynthesisOutput
	BlockedClaims []types.RedactionNotice

	// 运行簿记
	Evidence       *stores.EvidenceRegistry
	DegradedStages []types.Stage
	Transitions    []types.TransitionEvent
	Metrics        *types.StageMetrics
	FailureReason  string
}

// NewRunState 创建一次运行的初始状态
func NewRunState(runID string, req types.QueryRequest) *RunState {
	return &RunState{
		RunID:    runID,
		Request:  req,
		Evidence: stores.NewEvidenceRegistry(),
		Metrics:  types.NewStageMetrics(),
	}
}

// RecordTransition 追加一条状态迁移审计记录
func (st *RunState) RecordTransition(from, to types.Stage, reason string) {
	st.mu.Lock()
	st.Transitions = append(st.Transitions, types.TransitionEvent{From: from, To: to, Reason: reason})
	st.mu.Unlock()
}

// MarkDegraded 将阶段标记为降级完成
func (st *RunState) MarkDegraded(stage types.Stage) {
	st.mu.Lock()
	for _, s := range st.DegradedStages {
		if s == stage {
			st.mu.Unlock()
			return
		}
	}
	st.DegradedStages = append(st.DegradedStages, stage)
	st.mu.Unlock()
}

// requiredKeys 各阶段入口要求已就绪的状态键
var requiredKeys = map[types.Stage][]string{
	types.StageRetrieve:   {"query_id", "normalized_query"},
	types.StageGround:     {"query_id", "normalized_query", "candidate_windows"},
	types.StageResolve:    {"query_id", "grounded_tracks"},
	types.StageLocalize:   {"query_id", "grounded_tracks", "entity_links"},
	types.StageMemorize:   {"query_id", "entity_links", "temporal_segments"},
	types.StageSynthesize: {"query_id", "entity_links", "temporal_segments", "evidence_package"},
}

// hasKey 判断状态键是否已就绪
func (st *RunState) hasKey(key string) bool {
	switch key {
	case "query_id":
		return st.Request.QueryID != ""
	case "normalized_query":
		return st.NormalizedQuery != ""
	case "candidate_windows":
		return len(st.CandidateWindows) > 0
	case "grounded_tracks":
		return st.GroundedTracks != nil
	case "entity_links":
		return st.EntityLinks != nil
	case "temporal_segments":
		return st.TemporalSegments != nil
	case "evidence_package":
		return st.Evidence != nil
	default:
		return false
	}
}

// CheckContract 校验进入 stage 前的状态键契约
func (st *RunState) CheckContract(stage types.Stage) error {
	var missing []string
	for _, key := range requiredKeys[stage] {
		if !st.hasKey(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrInvalidState,
			"missing state keys before "+string(stage)+": "+strings.Join(missing, ", ")).
			WithStage(stage)
	}
	return nil
}

// Result 汇总运行结果
func (st *RunState) Result(finalStage types.Stage) *types.RunResult {
	return &types.RunResult{
		RunID:            st.RunID,
		QueryID:          st.Request.QueryID,
		QueryText:        st.Request.QueryText,
		FinalStage:       finalStage,
		ActiveWindows:    st.ActiveWindows,
		ValidatedWindows: validatedToWindows(st.ValidatedWindows),
		Tracklets:        st.GroundedTracks,
		EntityLinks:      st.EntityLinks,
		Segments:         st.TemporalSegments,
		GraphNodes:       st.GraphNodes,
		GraphEdges:       st.GraphEdges,
		Synthesis:        st.Synthesis,
		DegradedStages:   st.DegradedStages,
		BlockedClaims:    st.BlockedClaims,
		Transitions:      st.Transitions,
		Metrics:          st.Metrics,
		FailureReason:    st.FailureReason,
	}
}

func validatedToWindows(scored []ScoredWindow) []types.Window {
	out := make([]types.Window, 0, len(scored))
	for _, sw := range scored {
		out = append(out, sw.Window)
	}
	return out
}
