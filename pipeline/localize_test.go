package pipeline

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 时序定位测试
// =============================================================================

func TestSmoothCurve_WindowOne_IsIdentity(t *testing.T) {
	scores := []float64{0.1, 0.9, 0.2}
	assert.Equal(t, scores, smoothCurve(scores, 1))
}

func TestSmoothCurve_DampsSpikes(t *testing.T) {
	scores := []float64{0.1, 0.1, 1.0, 0.1, 0.1}
	smoothed := smoothCurve(scores, 3)

	assert.Less(t, smoothed[2], 1.0)
	assert.Greater(t, smoothed[1], 0.1)
	assert.Len(t, smoothed, len(scores))
}

// 单帧尖峰在平滑+迟滞的组合路径下必须整体消失：裸迟滞会为尖峰开段，
// 平滑后峰值被压到开段阈值以下
func TestSmoothThenHysteresis_SuppressesBriefCrossing(t *testing.T) {
	timestamps := []float64{0, 1, 2, 3, 4}
	blip := []float64{0.1, 0.1, 1.0, 0.1, 0.1}

	raw := extractSpans(timestamps, blip, 0.7, 0.4)
	require.NotEmpty(t, raw, "bare hysteresis opens on the spike")

	combined := extractSpans(timestamps, smoothCurve(blip, 3), 0.7, 0.4)
	assert.Empty(t, combined, "smoothed spike must not produce a segment")
}

func TestExtractSpans_HysteresisOpensHighClosesLow(t *testing.T) {
	timestamps := []float64{0, 1, 2, 3, 4, 5, 6}
	//          开段 ≥0.7 ----┐   0.5 仍在段内（≥0.4）    <0.4 收段
	scores := []float64{0.1, 0.8, 0.9, 0.5, 0.45, 0.2, 0.1}

	spans := extractSpans(timestamps, scores, 0.7, 0.4)
	require.Len(t, spans, 1)
	assert.InDelta(t, 1, spans[0].TStart, 1e-9)
	assert.InDelta(t, 5, spans[0].TEnd, 1e-9)
}

func TestExtractSpans_MidScoresNeverOpen(t *testing.T) {
	timestamps := []float64{0, 1, 2}
	scores := []float64{0.5, 0.6, 0.5} // 介于 low 和 high 之间

	spans := extractSpans(timestamps, scores, 0.7, 0.4)
	assert.Empty(t, spans)
}

func TestExtractSpans_OpenSpanClosesAtEnd(t *testing.T) {
	timestamps := []float64{0, 1, 2}
	scores := []float64{0.8, 0.8, 0.8}

	spans := extractSpans(timestamps, scores, 0.7, 0.4)
	require.Len(t, spans, 1)
	assert.InDelta(t, 0, spans[0].TStart, 1e-9)
	assert.InDelta(t, 2, spans[0].TEnd, 1e-9)
}

// 迟滞单调性：降低收段阈值绝不会缩短任何区段
func TestProperty_Hysteresis_LowerCloseThresholdNeverShortens(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("span length is monotone in the close threshold", prop.ForAll(
		func(raw []float64, lowA, lowB float64) bool {
			if len(raw) == 0 {
				return true
			}
			high := 0.7
			if lowA > lowB {
				lowA, lowB = lowB, lowA
			}
			if lowB >= high {
				return true
			}

			timestamps := make([]float64, len(raw))
			for i := range raw {
				timestamps[i] = float64(i)
			}

			wide := extractSpans(timestamps, raw, high, lowA)
			narrow := extractSpans(timestamps, raw, high, lowB)

			// 两种阈值下同一开段起点的区段，低阈值者不短于高阈值者
			for _, n := range narrow {
				for _, w := range wide {
					if w.TStart == n.TStart && w.TEnd-w.TStart < n.TEnd-n.TStart {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.Float64Range(0.05, 0.6),
		gen.Float64Range(0.05, 0.6),
	))

	properties.TestingRun(t)
}

func TestHasConfidenceDip(t *testing.T) {
	steady := []types.MaskFrame{
		{Confidence: 0.9}, {Confidence: 0.88}, {Confidence: 0.91},
	}
	assert.False(t, hasConfidenceDip(steady, 0.35))

	occluded := []types.MaskFrame{
		{Confidence: 0.9}, {Confidence: 0.4}, {Confidence: 0.9},
	}
	assert.True(t, hasConfidenceDip(occluded, 0.35))
}

func TestFlagMultiActorOverlaps(t *testing.T) {
	segments := []types.TemporalSegment{
		{SegmentID: "s1", ClipID: "clip_1", TStart: 0, TEnd: 5},
		{SegmentID: "s2", ClipID: "clip_1", TStart: 3, TEnd: 8},
		{SegmentID: "s3", ClipID: "clip_2", TStart: 0, TEnd: 5},
	}

	flagged := flagMultiActorOverlaps(segments)
	assert.True(t, flagged[0].HasFlag(types.FlagMultiActorAmbiguity))
	assert.True(t, flagged[1].HasFlag(types.FlagMultiActorAmbiguity))
	assert.False(t, flagged[2].HasFlag(types.FlagMultiActorAmbiguity))
}

func TestApplyForegroundWeights(t *testing.T) {
	timestamps := []float64{0, 1, 2, 3}
	scores := []float64{1.0, 1.0, 1.0, 1.0}
	slice := types.ForegroundSlice{
		TrackID:       "track_x",
		ModelVersion:  "v1",
		TimestepTimes: []float64{0, 1, 2},
		Tokens:        [][]float64{{0.4}, {0.04}, {0.3}},
	}

	out := applyForegroundWeights(timestamps, scores, slice)
	// 峰值一半以上不衰减，塌陷帧线性衰减，切片未覆盖的帧保持原分
	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.InDelta(t, 0.2, out[1], 1e-9)
	assert.InDelta(t, 1.0, out[2], 1e-9)
	assert.InDelta(t, 1.0, out[3], 1e-9)
}

// L2 前景切片参与隔离：前景能量塌陷的尾段帧被压掉，区段随之收短
func TestLocalizeTrack_ForegroundSliceTrimsSegment(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	clip := types.Clip{
		ClipID:          "clip_fg",
		CameraID:        "cam_fg",
		DurationSeconds: 7,
	}
	for ts := 0.0; ts <= 6; ts++ {
		clip.Frames = append(clip.Frames, types.FrameObservation{
			Timestamp: ts,
			Objects:   []string{"person_p1"},
			Actions:   []string{"walking"},
		})
	}
	track := types.Tracklet{
		TrackID:          "track_fg",
		ClipID:           clip.ClipID,
		CameraID:         clip.CameraID,
		EntityType:       types.EntityPerson,
		TStart:           0,
		TEnd:             6,
		MedianConfidence: 0.9,
	}
	st := NewRunState("run-fg", types.QueryRequest{
		QueryID:   "query_fg",
		QueryText: "person walking",
		Clips:     []types.Clip{clip},
	})

	// 无切片：整条轨迹动作得分饱和，区段覆盖全轨迹
	baseline, degraded, err := engine.localizeTrack(ctx, st, track, clip)
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.InDelta(t, 0, baseline.TStart, 1e-9)
	assert.InDelta(t, 6, baseline.TEnd, 1e-9)

	// 种一条后半程前景能量塌陷的切片
	slice := types.ForegroundSlice{
		TrackID:       track.TrackID,
		ModelVersion:  engine.cfg.ModelVersion,
		TimestepTimes: []float64{0, 1, 2, 3, 4, 5, 6},
		Tokens: [][]float64{
			{0.4}, {0.4}, {0.4}, {0.02}, {0.02}, {0.02}, {0.02},
		},
	}
	require.NoError(t, engine.cache.SetL2(ctx, slice))

	hitsBefore := st.Metrics.CacheHits
	trimmed, degraded, err := engine.localizeTrack(ctx, st, track, clip)
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Greater(t, st.Metrics.CacheHits, hitsBefore, "foreground slice read must count as a cache hit")

	assert.InDelta(t, 0, trimmed.TStart, 1e-9)
	assert.Less(t, trimmed.TEnd, baseline.TEnd, "collapsed foreground tail must shorten the segment")
}
