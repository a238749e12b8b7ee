package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/internal/ident"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🎬 阶段一：活动摄取
// =============================================================================
// 按封闭路由集为每个片段选择唯一的摄取路径，抽取活动窗口并为
// 窗口内关键帧建立嵌入索引。出口门禁校验窗口覆盖率与重复率。

// chooseRoute 为片段选择唯一摄取路由并自报路由置信度。
// 优先级固定：载体元数据 > 运动相机 > 背景扰动 > 默认 CV 状态检测。
// 背景扰动路由按均值超出阈值的幅度计信，CV 路由按显著帧占比计信。
func (e *Engine) chooseRoute(clip types.Clip) (types.RouteID, float64) {
	if clip.Metadata.HasMotionVectors {
		return types.RouteMetaSync, 0.95
	}
	if clip.CameraType == types.CameraMoving {
		return types.RouteSigExAdaptive, 0.9
	}
	if len(clip.Frames) == 0 {
		return types.RouteCVState, 0
	}

	motion := make([]float64, 0, len(clip.Frames))
	for _, frame := range clip.Frames {
		motion = append(motion, frame.BackgroundMotion)
	}
	if mean := stat.Mean(motion, nil); mean > e.cfg.Ingestion.BGMotionThreshold {
		return types.RouteBGMotionTrigger, math.Min(1, 0.5+mean-e.cfg.Ingestion.BGMotionThreshold)
	}

	salient := 0
	for _, frame := range clip.Frames {
		if frameIsSalient(frame) {
			salient++
		}
	}
	return types.RouteCVState, float64(salient) / float64(len(clip.Frames))
}

var salientTokens = []string{"suv", "person", "vehicle", "car", "truck"}

// frameIsSalient 帧带动作或出现显著对象词即视为活动信号
func frameIsSalient(frame types.FrameObservation) bool {
	if len(frame.Actions) > 0 {
		return true
	}
	joined := strings.ToLower(strings.Join(frame.Objects, " "))
	for _, token := range salientTokens {
		if strings.Contains(joined, token) {
			return true
		}
	}
	return false
}

// extractActiveWindows 按路由抽取活动窗口时间段
func (e *Engine) extractActiveWindows(clip types.Clip, route types.RouteID) []windowSpan {
	if route == types.RouteMetaSync && len(clip.Metadata.ActiveWindows) > 0 {
		spans := make([]windowSpan, 0, len(clip.Metadata.ActiveWindows))
		for _, raw := range clip.Metadata.ActiveWindows {
			spans = append(spans, windowSpan{TStart: raw.TStart, TEnd: raw.TEnd, Reason: "metadata_window"})
		}
		return spans
	}

	// 自适应信号抽取：背景扰动显著高出片段基线的帧即便无语义信号也入窗
	var motionFloor float64
	if route == types.RouteSigExAdaptive && len(clip.Frames) > 0 {
		motion := make([]float64, 0, len(clip.Frames))
		for _, frame := range clip.Frames {
			motion = append(motion, frame.BackgroundMotion)
		}
		motionFloor = stat.Mean(motion, nil) + 0.2
	}

	var activeTimestamps []float64
	for _, frame := range clip.Frames {
		meaningful := frameIsSalient(frame)
		switch route {
		case types.RouteBGMotionTrigger:
			meaningful = meaningful && frame.BackgroundMotion > 0.4
		case types.RouteSigExAdaptive:
			meaningful = meaningful || frame.BackgroundMotion > motionFloor
		}
		if meaningful {
			activeTimestamps = append(activeTimestamps, frame.Timestamp)
		}
	}

	var spans []windowSpan
	for _, span := range contiguousSpans(activeTimestamps) {
		spans = append(spans, windowSpan{TStart: span.TStart, TEnd: span.TEnd, Reason: "activity_detected"})
	}
	return spans
}

type windowSpan struct {
	TStart float64
	TEnd   float64
	Reason string
}

// routedSpan 主路由与兜底路由的混排需要逐 span 记路由归属
type routedSpan struct {
	windowSpan
	Route types.RouteID
}

// contiguousSpans 把相邻（间隔 ≤ 1s）的时间戳折叠成连续区间
func contiguousSpans(timestamps []float64) []types.TimeSpan {
	if len(timestamps) == 0 {
		return nil
	}
	sort.Float64s(timestamps)

	var spans []types.TimeSpan
	start := timestamps[0]
	prev := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts-prev > 1.0 {
			spans = append(spans, types.TimeSpan{TStart: start, TEnd: prev})
			start = ts
		}
		prev = ts
	}
	spans = append(spans, types.TimeSpan{TStart: start, TEnd: prev})
	return spans
}

// stageIngest 执行活动摄取
func (e *Engine) stageIngest(ctx context.Context, st *RunState, mode Mode) error {
	st.NormalizedQuery = strings.TrimSpace(strings.ToLower(st.Request.QueryText))
	st.QueryTokens = adapters.Tokenize(st.Request.QueryText)

	clipsByID := make(map[string]types.Clip, len(st.Request.Clips))
	var windows []types.Window

	for _, clip := range st.Request.Clips {
		clipsByID[clip.ClipID] = clip
		route, routeConf := e.chooseRoute(clip)

		var spans []routedSpan
		for _, span := range e.extractActiveWindows(clip, route) {
			spans = append(spans, routedSpan{windowSpan: span, Route: route})
		}

		// 低置信路由并行跑一遍自适应信号抽取兜底，主路由窗口在前，
		// 时间高度重叠的兜底窗口交由去重折叠
		safetyNet := route != types.RouteSigExAdaptive && routeConf < e.cfg.Ingestion.SafetyNetConfidence
		if safetyNet {
			for _, span := range e.extractActiveWindows(clip, types.RouteSigExAdaptive) {
				span.Reason = "safety_net"
				spans = append(spans, routedSpan{windowSpan: span, Route: types.RouteSigExAdaptive})
			}
		}

		// 降级模式下无信号的片段兜底为整段单窗口
		if len(spans) == 0 && mode == ModeDegraded && len(clip.Frames) > 0 {
			spans = []routedSpan{{
				windowSpan: windowSpan{
					TStart: clip.Frames[0].Timestamp,
					TEnd:   clip.Frames[len(clip.Frames)-1].Timestamp,
					Reason: "degraded_full_clip",
				},
				Route: route,
			}}
		}

		for idx, span := range spans {
			frames := clip.FramesBetween(span.TStart, span.TEnd)
			windows = append(windows, types.Window{
				WindowID:       ident.StableID("WIN", clip.ClipID, span.Route, idx, span.TStart, span.TEnd),
				ClipID:         clip.ClipID,
				CameraID:       clip.CameraID,
				RouteID:        span.Route,
				TStart:         span.TStart,
				TEnd:           span.TEnd,
				Reason:         span.Reason,
				SemanticTokens: windowTokens(frames),
			})
		}

		e.logger.Debug("片段路由完成",
			zap.String("run_id", st.RunID),
			zap.String("clip_id", clip.ClipID),
			zap.String("route", string(route)),
			zap.Float64("route_confidence", routeConf),
			zap.Bool("safety_net", safetyNet),
			zap.Int("windows", len(spans)))
	}

	// 先去重再建索引，重复窗口的关键帧不会成为孤儿记录
	windows = dedupeWindows(windows, e.cfg.Ingestion.DedupOverlapRatio)

	var records []types.KeyframeRecord
	for _, window := range windows {
		clip := clipsByID[window.ClipID]
		tokens := window.SemanticTokens
		for _, frame := range clip.FramesBetween(window.TStart, window.TEnd) {
			frameID := ident.StableID("FRAME", clip.ClipID, frame.Timestamp)
			embedding, _, err := adapters.Invoke(ctx, e.invoker, "frame_embedder",
				func(c context.Context) ([]float64, float64, error) {
					return e.bundle.Frames.EmbedFrame(c, clip.ClipID, frame.Timestamp, tokens)
				})
			if err != nil {
				return types.NewError(types.ErrAdapterUnavailable, "frame embedding failed").
					WithStage(types.StageIngest).WithCause(err)
			}
			records = append(records, types.KeyframeRecord{
				FrameID:        frameID,
				WindowID:       window.WindowID,
				ClipID:         clip.ClipID,
				CameraID:       clip.CameraID,
				Timestamp:      frame.Timestamp,
				Embedding:      embedding,
				EmbeddingID:    ident.StableID("EMB", frameID, "frames"),
				SemanticTokens: tokens,
				RouteID:        window.RouteID,
			})
		}
	}

	if err := e.index.Add(ctx, records); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "keyframe index write failed").
			WithStage(types.StageIngest).WithCause(err)
	}
	st.ActiveWindows = windows

	// 出口门禁：至少一个窗口、覆盖率达标、近邻重复率不超限
	if err := e.ingestGate(st, mode, duplicateRate(records)); err != nil {
		return err
	}
	return nil
}

// duplicateRate 近邻重复关键帧占比：同片段内时间戳间隔 ≤ 0.5s 的
// 相邻记录对，后者计为重复
func duplicateRate(records []types.KeyframeRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	byClip := make(map[string][]float64)
	for _, record := range records {
		byClip[record.ClipID] = append(byClip[record.ClipID], record.Timestamp)
	}
	duplicates := 0
	for _, timestamps := range byClip {
		sort.Float64s(timestamps)
		for i := 1; i < len(timestamps); i++ {
			if timestamps[i]-timestamps[i-1] <= 0.5 {
				duplicates++
			}
		}
	}
	return float64(duplicates) / float64(len(records))
}

// ingestGate 摄取门禁：窗口覆盖率不足或近邻重复率超限则拒绝交接。
// 降级模式下放行，由下游以 insufficient evidence 收束。
func (e *Engine) ingestGate(st *RunState, mode Mode, dupRate float64) error {
	if mode == ModeDegraded {
		st.MarkDegraded(types.StageIngest)
		return nil
	}
	if len(st.ActiveWindows) == 0 {
		return types.NewError(types.ErrGateFailure, "no active windows extracted").
			WithStage(types.StageIngest)
	}

	covered := 0
	clipIDs := make(map[string]bool)
	for _, window := range st.ActiveWindows {
		clipIDs[window.ClipID] = true
	}
	for _, clip := range st.Request.Clips {
		if clipIDs[clip.ClipID] {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(st.Request.Clips))
	if coverage < e.cfg.Ingestion.MinCoverage {
		return types.NewError(types.ErrGateFailure,
			fmt.Sprintf("window coverage %.2f below floor %.2f", coverage, e.cfg.Ingestion.MinCoverage)).
			WithStage(types.StageIngest)
	}
	if dupRate > e.cfg.Ingestion.MaxDuplicateRate {
		return types.NewError(types.ErrGateFailure,
			fmt.Sprintf("near-duplicate keyframe rate %.2f above ceiling %.2f", dupRate, e.cfg.Ingestion.MaxDuplicateRate)).
			WithStage(types.StageIngest)
	}
	return nil
}

// dedupeWindows 去除同片段内高度重叠的重复窗口，保留先出现者
func dedupeWindows(windows []types.Window, overlapRatio float64) []types.Window {
	var out []types.Window
	for _, candidate := range windows {
		duplicate := false
		for _, kept := range out {
			if kept.ClipID != candidate.ClipID {
				continue
			}
			overlap := kept.Overlap(candidate.TStart, candidate.TEnd)
			span := candidate.TEnd - candidate.TStart
			if span <= 0 {
				span = 1
			}
			if overlap/span >= overlapRatio {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, candidate)
		}
	}
	return out
}

func windowTokens(frames []types.FrameObservation) []string {
	set := make(map[string]bool)
	for _, frame := range frames {
		for _, token := range adapters.Tokenize(strings.Join(append(append([]string{}, frame.Objects...), frame.Actions...), " ")) {
			set[token] = true
		}
	}
	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
