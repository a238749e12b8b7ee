package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🎯 阶段三：空间接地
// =============================================================================
// 对每个验证窗口用查询变体驱动掩码轨迹生成，掩码中位置信度不达标
// 时依次尝试分解变体，最后落到检测器+跟踪器回退。接受的轨迹必须
// 物化掩码叠加制品并登记证据引用，前景切片写入 L2 缓存。

// stageGround 执行空间接地
func (e *Engine) stageGround(ctx context.Context, st *RunState, mode Mode) error {
	clipsByID := make(map[string]types.Clip, len(st.Request.Clips))
	for _, clip := range st.Request.Clips {
		clipsByID[clip.ClipID] = clip
	}

	threshold := e.cfg.Grounding.MinMaskConfidence
	variants := decomposeQuery(st.Request.QueryText)

	var all []types.Tracklet
	for _, sw := range st.ValidatedWindows {
		clip, ok := clipsByID[sw.Window.ClipID]
		if !ok {
			continue
		}

		var best []types.Tracklet
		bestScore := -1.0

		maxAttempts := e.cfg.Grounding.MaxPromptRetries + 1
		for attempt := 0; attempt < maxAttempts; attempt++ {
			variant := variants[min(attempt, len(variants)-1)]
			if e.collector != nil {
				e.collector.IncAdapterCall("grounder")
			}
			candidates, score, err := adapters.Invoke(ctx, e.invoker, "grounder",
				func(c context.Context) ([]types.Tracklet, float64, error) {
					return e.bundle.Grounder.Ground(c, adapters.GroundRequest{
						Window: sw.Window,
						Clip:   clip,
						Prompt: variant,
					})
				})
			if err != nil {
				return types.NewError(types.ErrAdapterUnavailable, "grounding failed").
					WithStage(types.StageGround).WithCause(err)
			}
			if len(candidates) > 0 && score > bestScore {
				bestScore = score
				best = candidates
			}
			if score >= threshold {
				break
			}
		}

		// 回退路径：提示词驱动始终低于阈值时换检测器+跟踪器
		if bestScore < threshold && (mode == ModeFallback || mode == ModeDegraded || e.bundle.FallbackGrounder != nil) {
			fallback, _, err := adapters.Invoke(ctx, e.invoker, "fallback_grounder",
				func(c context.Context) ([]types.Tracklet, float64, error) {
					return e.bundle.FallbackGrounder.Ground(c, adapters.GroundRequest{
						Window: sw.Window,
						Clip:   clip,
						Prompt: st.Request.QueryText,
					})
				})
			if err != nil {
				e.logger.Warn("回退接地失败", zap.String("window_id", sw.Window.WindowID), zap.Error(err))
			} else if len(fallback) > 0 {
				best = fallback
			}
		}

		for _, track := range best {
			materialized, err := e.materializeTrack(ctx, st, track, sw.Window)
			if err != nil {
				return err
			}
			all = append(all, materialized)
		}
	}

	st.GroundedTracks = all
	if len(all) == 0 {
		if mode == ModeDegraded {
			st.MarkDegraded(types.StageGround)
			st.GroundedTracks = []types.Tracklet{}
			return nil
		}
		return types.NewError(types.ErrGateFailure, "no track accepted by mask confidence gate").
			WithStage(types.StageGround)
	}

	e.logger.Info("空间接地完成",
		zap.String("run_id", st.RunID),
		zap.Int("tracks", len(all)))
	return nil
}

// materializeTrack 物化掩码叠加制品、登记证据并回填 L2 前景切片。
// 无叠加制品的轨迹不允许进入下游。
func (e *Engine) materializeTrack(ctx context.Context, st *RunState, track types.Tracklet, window types.Window) (types.Tracklet, error) {
	overlayName := fmt.Sprintf("%s/%s.json", track.ClipID, track.TrackID)
	payload := fmt.Sprintf("mask_overlay:%s:%v-%v", track.Label, track.TStart, track.TEnd)
	uri, err := e.artifacts.Put(ctx, overlayName, []byte(payload))
	if err != nil {
		return types.Tracklet{}, types.NewError(types.ErrStoreUnavailable, "overlay artifact write failed").
			WithStage(types.StageGround).WithCause(err)
	}
	track.OverlayURI = uri

	st.Evidence.Register(track.TrackID, types.EvidenceRef{
		ClipID:       track.ClipID,
		CameraID:     track.CameraID,
		FrameRange:   types.FrameRange{TStart: track.TStart, TEnd: track.TEnd},
		OverlayURI:   uri,
		EmbeddingID:  e.embeddingIDFor(track),
		ModelVersion: e.cfg.ModelVersion,
	})

	// 达标轨迹的时间步 token 进入 L2,供阶段五复用
	if track.MedianConfidence >= e.cfg.Grounding.MinMaskConfidence {
		slice := foregroundSlice(track, window, e.cfg.ModelVersion)
		if err := e.cache.SetL2(ctx, slice); err != nil {
			e.logger.Warn("L2 缓存写入失败", zap.String("track_id", track.TrackID), zap.Error(err))
		}
	}
	return track, nil
}

// embeddingIDFor 从关键帧索引中选取一条可复现的嵌入引用
func (e *Engine) embeddingIDFor(track types.Tracklet) string {
	for _, record := range e.index.Records() {
		if record.ClipID == track.ClipID &&
			record.Timestamp >= track.TStart && record.Timestamp <= track.TEnd {
			return record.EmbeddingID
		}
	}
	return ""
}

// foregroundSlice 从轨迹掩码构造 L2 前景实体切片
func foregroundSlice(track types.Tracklet, window types.Window, modelVersion string) types.ForegroundSlice {
	times := make([]float64, 0, len(track.FrameMasks))
	tokens := make([][]float64, 0, len(track.FrameMasks))
	for _, mask := range track.FrameMasks {
		times = append(times, mask.Timestamp)
		token := adapters.DeterministicVector(fmt.Sprintf("fg:%s:%v", track.TrackID, mask.Timestamp))
		weight := mask.Coverage * mask.Confidence
		scaled := make([]float64, len(token))
		for i, v := range token {
			scaled[i] = v * weight
		}
		tokens = append(tokens, scaled)
	}
	_ = window
	return types.ForegroundSlice{
		TrackID:       track.TrackID,
		ModelVersion:  modelVersion,
		TimestepTimes: times,
		Tokens:        tokens,
	}
}
