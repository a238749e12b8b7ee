package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/videorag/fixtures"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 空间接地测试
// =============================================================================

func groundedState(t *testing.T, engine *Engine, req types.QueryRequest) *RunState {
	t.Helper()
	ctx := context.Background()
	st := NewRunState("run-ground", req)
	require.NoError(t, engine.stageIngest(ctx, st, ModePrimary))
	require.NoError(t, engine.stageRetrieve(ctx, st, ModePrimary))
	require.NoError(t, engine.stageGround(ctx, st, ModePrimary))
	return st
}

// 接受的轨迹必须物化叠加制品并登记证据，这是进入下游的硬前提
func TestStageGround_MaterializesOverlayAndEvidence(t *testing.T) {
	engine := newTestEngine(t)
	st := groundedState(t, engine, fixtures.RedSUVRequest())

	require.NotEmpty(t, st.GroundedTracks)
	for _, track := range st.GroundedTracks {
		assert.NotEmpty(t, track.OverlayURI, "track %s missing overlay artifact", track.TrackID)

		refs := st.Evidence.Lookup(track.TrackID)
		require.NotEmpty(t, refs, "track %s missing evidence registration", track.TrackID)
		assert.Equal(t, track.OverlayURI, refs[0].OverlayURI)
		assert.Equal(t, engine.cfg.ModelVersion, refs[0].ModelVersion)
	}
}

func TestStageGround_FindsVehicleAndPerson(t *testing.T) {
	engine := newTestEngine(t)
	st := groundedState(t, engine, fixtures.RedSUVRequest())

	var sawVehicle, sawPerson bool
	for _, track := range st.GroundedTracks {
		if track.EntityType == types.EntityObject && track.Label == "red_suv" {
			sawVehicle = true
			assert.GreaterOrEqual(t, track.TStart, 8.0)
			assert.LessOrEqual(t, track.TEnd, 13.0)
		}
		if track.EntityType == types.EntityPerson {
			sawPerson = true
		}
	}
	assert.True(t, sawVehicle, "red suv track expected")
	assert.True(t, sawPerson, "person track expected")
}

// 达标轨迹的前景切片落进 L2，供时序定位复用
func TestStageGround_WritesForegroundSliceToL2(t *testing.T) {
	engine := newTestEngine(t)
	st := groundedState(t, engine, fixtures.RedSUVRequest())

	ctx := context.Background()
	found := false
	for _, track := range st.GroundedTracks {
		if track.MedianConfidence < engine.cfg.Grounding.MinMaskConfidence {
			continue
		}
		slice, err := engine.cache.GetL2(ctx, track.TrackID, engine.cfg.ModelVersion)
		require.NoError(t, err, "qualified track %s missing L2 slice", track.TrackID)
		assert.Equal(t, track.TrackID, slice.TrackID)
		assert.Len(t, slice.Tokens, len(slice.TimestepTimes))
		found = true
	}
	assert.True(t, found, "at least one qualified track expected")
}

// 宽泛提示词下主路径低于掩码阈值，回退接地器出手且全部打上回退标记
func TestStageGround_FallbackOnBroadPrompt(t *testing.T) {
	engine := newTestEngine(t)

	req := fixtures.RedSUVRequest()
	req.QueryText = "what happened over there"

	ctx := context.Background()
	st := NewRunState("run-broad", req)
	require.NoError(t, engine.stageIngest(ctx, st, ModePrimary))
	// 宽泛提示词通不过主验证，沿门禁阶梯降到回退检索
	require.NoError(t, engine.runStage(ctx, st, types.StageRetrieve, engine.stageRetrieve))
	require.NoError(t, engine.stageGround(ctx, st, ModePrimary))

	require.NotEmpty(t, st.GroundedTracks)
	for _, track := range st.GroundedTracks {
		assert.True(t, track.Fallback, "track %s should come from the fallback grounder", track.TrackID)
		assert.Less(t, track.MedianConfidence, engine.cfg.Grounding.MinMaskConfidence)
	}
}

func TestEmbeddingIDFor_ResolvesFromIndex(t *testing.T) {
	engine := newTestEngine(t)
	st := groundedState(t, engine, fixtures.RedSUVRequest())
	require.NotEmpty(t, st.GroundedTracks)

	track := st.GroundedTracks[0]
	id := engine.embeddingIDFor(track)
	assert.NotEmpty(t, id, "grounded track must reference an indexed embedding")
}
