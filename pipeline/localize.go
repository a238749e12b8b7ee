package pipeline

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/internal/ident"
	"github.com/BaSui01/videorag/stores"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// ⏱️ 阶段五：时序定位
// =============================================================================
// 对每条候选轨迹构造逐帧动作相似度曲线，滑动平均平滑后用双阈值
// 迟滞分段：得分 ≥ high 开段，跌破 low 收段。无合格区段时降级为
// 轨迹全span的保守段并打标。同片段多人区段重叠时追加歧义标志。

type scoredSpan struct {
	TStart     float64
	TEnd       float64
	Confidence float64
}

// stageLocalize 执行时序定位
func (e *Engine) stageLocalize(ctx context.Context, st *RunState, mode Mode) error {
	clipsByID := make(map[string]types.Clip, len(st.Request.Clips))
	for _, clip := range st.Request.Clips {
		clipsByID[clip.ClipID] = clip
	}

	var candidates []types.Tracklet
	for _, track := range st.GroundedTracks {
		if track.EntityType == types.EntityPerson {
			candidates = append(candidates, track)
		}
	}
	if len(candidates) == 0 {
		candidates = st.GroundedTracks
	}

	var segments []types.TemporalSegment
	for _, track := range candidates {
		segment, degraded, err := e.localizeTrack(ctx, st, track, clipsByID[track.ClipID])
		if err != nil {
			return err
		}
		if degraded {
			st.MarkDegraded(types.StageLocalize)
		}
		segments = append(segments, segment)
	}

	segments = flagMultiActorOverlaps(segments)
	sort.Slice(segments, func(i, j int) bool { return segments[i].SegmentID < segments[j].SegmentID })
	st.TemporalSegments = segments

	if len(segments) == 0 && mode != ModeDegraded && len(candidates) > 0 {
		return types.NewError(types.ErrGateFailure, "no temporal segment produced").
			WithStage(types.StageLocalize)
	}
	if st.TemporalSegments == nil {
		st.TemporalSegments = []types.TemporalSegment{}
	}

	e.logger.Info("时序定位完成",
		zap.String("run_id", st.RunID),
		zap.Int("segments", len(segments)))
	return nil
}

// localizeTrack 对单条轨迹执行定位，返回区段与是否走了降级路径
func (e *Engine) localizeTrack(ctx context.Context, st *RunState, track types.Tracklet, clip types.Clip) (types.TemporalSegment, bool, error) {
	cfg := e.cfg.Temporal
	queryTokens := adapters.Tokenize(st.Request.QueryText)

	frames := clip.FramesBetween(track.TStart, track.TEnd)
	timestamps := make([]float64, 0, len(frames))
	scores := make([]float64, 0, len(frames))
	for _, frame := range frames {
		timestamps = append(timestamps, frame.Timestamp)
		scores = append(scores, actionScore(queryTokens, frame))
	}

	// 接地阶段写入的 L2 前景切片优先参与隔离：前景能量塌陷的帧
	// 按比例压低动作得分，再进平滑与迟滞
	slice, err := e.cache.GetL2(ctx, track.TrackID, e.cfg.ModelVersion)
	switch {
	case err == nil:
		st.Metrics.CacheHits++
		if e.collector != nil {
			e.collector.IncCacheHit("l2")
		}
		scores = applyForegroundWeights(timestamps, scores, slice)
	case errors.Is(err, stores.ErrCacheMiss):
		st.Metrics.CacheMisses++
		if e.collector != nil {
			e.collector.IncCacheMiss("l2")
		}
	default:
		e.logger.Warn("L2 缓存读取失败", zap.String("track_id", track.TrackID), zap.Error(err))
	}

	smoothed := smoothCurve(scores, cfg.SmoothingWindow)
	spans := extractSpans(timestamps, smoothed, cfg.HysteresisHigh, cfg.HysteresisLow)

	var flags []types.SegmentFlag
	if track.MedianConfidence < e.cfg.Grounding.MinMaskConfidence {
		flags = append(flags, types.FlagLowMaskConfidence)
	}
	if hasConfidenceDip(track.FrameMasks, cfg.OcclusionDip) {
		flags = append(flags, types.FlagOcclusion)
	}

	action := "tracked_activity"
	for _, token := range queryTokens {
		if strings.HasPrefix(token, "exit") {
			action = "person_exits_vehicle"
			break
		}
	}

	degraded := false
	var chosen scoredSpan
	if len(spans) == 0 {
		// 降级：无合格区段时退回轨迹全 span 的保守段
		degraded = true
		chosen = scoredSpan{TStart: track.TStart, TEnd: track.TEnd, Confidence: 0.35}
	} else {
		chosen = spans[0]
		// 边界不稳定不在封闭标志集内，只压低置信度
		if !e.boundaryStable(timestamps, scores, chosen, cfg.MaxBoundaryDrift) {
			chosen.Confidence = math.Min(chosen.Confidence, 0.5)
		}
	}

	segment := types.TemporalSegment{
		SegmentID:  ident.StableID("SEG", track.TrackID, chosen.TStart, chosen.TEnd, action),
		ClipID:     clip.ClipID,
		CameraID:   clip.CameraID,
		TrackID:    track.TrackID,
		Action:     action,
		TStart:     chosen.TStart,
		TEnd:       chosen.TEnd,
		Confidence: chosen.Confidence,
		Degraded:   degraded,
	}
	for _, flag := range flags {
		segment = segment.WithFlag(flag)
	}

	st.Evidence.Register(segment.SegmentID, types.EvidenceRef{
		ClipID:       clip.ClipID,
		CameraID:     clip.CameraID,
		FrameRange:   types.FrameRange{TStart: segment.TStart, TEnd: segment.TEnd},
		OverlayURI:   track.OverlayURI,
		EmbeddingID:  e.embeddingIDFor(track),
		ModelVersion: e.cfg.ModelVersion,
	})
	return segment, degraded, nil
}

// applyForegroundWeights 用前景切片能量调制动作曲线。token 向量的
// L2 范数即掩码覆盖率×置信度，跌破峰值一半的帧按线性比例衰减，
// 切片未覆盖的帧保持原分。
func applyForegroundWeights(timestamps, scores []float64, slice types.ForegroundSlice) []float64 {
	weights := make(map[float64]float64, len(slice.TimestepTimes))
	peak := 0.0
	for i, ts := range slice.TimestepTimes {
		if i >= len(slice.Tokens) {
			break
		}
		w := floats.Norm(slice.Tokens[i], 2)
		weights[ts] = w
		if w > peak {
			peak = w
		}
	}
	if peak == 0 {
		return scores
	}

	out := append([]float64(nil), scores...)
	for i, ts := range timestamps {
		w, ok := weights[ts]
		if !ok {
			continue
		}
		if factor := 2 * w / peak; factor < 1 {
			out[i] *= factor
		}
	}
	return out
}

// actionScore 逐帧动作相似度：动作 token 与查询重叠得满分，
// 有动作无重叠得弱分，静止帧接近零。
func actionScore(queryTokens []string, frame types.FrameObservation) float64 {
	actionTokens := adapters.Tokenize(strings.Join(frame.Actions, " "))
	if adapters.OverlapScore(queryTokens, actionTokens) > 0 {
		return 1.0
	}
	if len(frame.Actions) > 0 {
		return 0.3
	}
	return 0.1
}

// smoothCurve 居中滑动平均
func smoothCurve(scores []float64, window int) []float64 {
	if window <= 1 || len(scores) == 0 {
		return append([]float64(nil), scores...)
	}
	half := window / 2
	out := make([]float64, len(scores))
	for i := range scores {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(scores) {
			hi = len(scores)
		}
		out[i] = stat.Mean(scores[lo:hi], nil)
	}
	return out
}

// extractSpans 双阈值迟滞分段：≥ high 开段，< low 收段
func extractSpans(timestamps, scores []float64, high, low float64) []scoredSpan {
	if len(timestamps) == 0 || len(scores) == 0 {
		return nil
	}

	var spans []scoredSpan
	inSpan := false
	var start float64
	var current []float64

	for i, ts := range timestamps {
		score := scores[i]
		if !inSpan && score >= high {
			inSpan = true
			start = ts
			current = []float64{score}
			continue
		}
		if inSpan {
			if score >= low {
				current = append(current, score)
			} else {
				spans = append(spans, scoredSpan{TStart: start, TEnd: ts, Confidence: stat.Mean(current, nil)})
				inSpan = false
				current = nil
			}
		}
	}
	if inSpan {
		spans = append(spans, scoredSpan{
			TStart:     start,
			TEnd:       timestamps[len(timestamps)-1],
			Confidence: stat.Mean(current, nil),
		})
	}
	return spans
}

// boundaryStable 稳定性门禁：对曲线做轻微扰动后重新分段，
// 首段边界漂移超过容差则判定不稳定。
func (e *Engine) boundaryStable(timestamps, rawScores []float64, chosen scoredSpan, maxDrift float64) bool {
	if maxDrift <= 0 || len(rawScores) < 2 {
		return true
	}
	perturbed := smoothCurve(rawScores, e.cfg.Temporal.SmoothingWindow+2)
	respans := extractSpans(timestamps, perturbed, e.cfg.Temporal.HysteresisHigh, e.cfg.Temporal.HysteresisLow)
	if len(respans) == 0 {
		return false
	}
	return math.Abs(respans[0].TStart-chosen.TStart) <= maxDrift &&
		math.Abs(respans[0].TEnd-chosen.TEnd) <= maxDrift
}

// hasConfidenceDip 掩码置信度出现深跌视作遮挡迹象
func hasConfidenceDip(masks []types.MaskFrame, dip float64) bool {
	if dip <= 0 || len(masks) < 3 {
		return false
	}
	peak := 0.0
	for _, mask := range masks {
		if mask.Confidence > peak {
			peak = mask.Confidence
		}
	}
	for _, mask := range masks {
		if peak-mask.Confidence >= dip {
			return true
		}
	}
	return false
}

// flagMultiActorOverlaps 同片段内区段重叠时互相追加歧义标志
func flagMultiActorOverlaps(segments []types.TemporalSegment) []types.TemporalSegment {
	for i := range segments {
		for j := range segments {
			if i == j || segments[i].ClipID != segments[j].ClipID {
				continue
			}
			if segments[i].Overlaps(segments[j]) {
				segments[i] = segments[i].WithFlag(types.FlagMultiActorAmbiguity)
				break
			}
		}
	}
	return segments
}
