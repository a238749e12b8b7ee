package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 图记忆写入测试
// =============================================================================

func evidenceRef(clipID string, tStart, tEnd float64) types.EvidenceRef {
	return types.EvidenceRef{
		ClipID:       clipID,
		CameraID:     "cam_1",
		FrameRange:   types.FrameRange{TStart: tStart, TEnd: tEnd},
		OverlayURI:   "artifact://" + clipID + "/overlay.json",
		EmbeddingID:  "emb-" + clipID,
		ModelVersion: "v1",
	}
}

func memorizeState(withEvidence bool) *RunState {
	st := NewRunState("run-mem", types.QueryRequest{
		QueryID:   "query_mem",
		QueryText: "find the person who exited the suv",
	})

	personTrack := types.Tracklet{
		TrackID: "trk_p", ClipID: "clip_1", CameraID: "cam_1", WindowID: "win_1",
		EntityType: types.EntityPerson, Label: "person_p1",
		TStart: 10, TEnd: 12, MedianConfidence: 0.86,
	}
	suvTrack := types.Tracklet{
		TrackID: "trk_s", ClipID: "clip_1", CameraID: "cam_1", WindowID: "win_1",
		EntityType: types.EntityObject, Label: "red_suv",
		TStart: 8, TEnd: 13, MedianConfidence: 0.88,
	}
	st.GroundedTracks = []types.Tracklet{personTrack, suvTrack}

	st.EntityLinks = []types.EntityLink{
		{EntityID: "ent_p", EntityType: types.EntityPerson, Label: "person_p1",
			TrackIDs: []string{"trk_p"}, Confidence: 0.86, Resolved: true},
		{EntityID: "ent_s", EntityType: types.EntityObject, Label: "red_suv",
			TrackIDs: []string{"trk_s"}, Confidence: 0.83, Resolved: true},
	}
	st.TemporalSegments = []types.TemporalSegment{
		{SegmentID: "seg_1", ClipID: "clip_1", CameraID: "cam_1", TrackID: "trk_p",
			Action: "person_exits_vehicle", TStart: 10, TEnd: 12, Confidence: 0.7},
	}

	if withEvidence {
		st.Evidence.Register("trk_p", evidenceRef("clip_1", 10, 12))
		st.Evidence.Register("trk_s", evidenceRef("clip_1", 8, 13))
		st.Evidence.Register("seg_1", evidenceRef("clip_1", 10, 12))
	}
	return st
}

func TestStageMemorize_WritesNodesAndExitEdge(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	st := memorizeState(true)
	require.NoError(t, engine.stageMemorize(ctx, st, ModePrimary))

	// 实体、轨迹、摄像机节点齐备
	kinds := make(map[types.NodeType]int)
	for _, node := range st.GraphNodes {
		kinds[node.Type]++
	}
	assert.Equal(t, 1, kinds[types.NodePerson])
	assert.Equal(t, 1, kinds[types.NodeObject])
	assert.Equal(t, 2, kinds[types.NodeTrack])
	assert.Equal(t, 1, kinds[types.NodeCamera])

	require.Len(t, st.GraphEdges, 1)
	edge := st.GraphEdges[0]
	assert.Equal(t, types.EdgeExits, edge.Type)
	assert.Equal(t, "ent_p", edge.From)
	assert.Equal(t, "ent_s", edge.To)
	assert.NotEmpty(t, edge.EvidenceRefs)
	assert.Empty(t, st.BlockedClaims)
}

// 证据缺失只阻断对应关系：边被拒绝并记录遮蔽通告，阶段照常完成
func TestStageMemorize_RejectsEvidencelessEdge(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	st := memorizeState(false)
	require.NoError(t, engine.stageMemorize(ctx, st, ModePrimary))

	assert.Empty(t, st.GraphEdges)
	require.NotEmpty(t, st.BlockedClaims)
	assert.Contains(t, st.BlockedClaims[0].Reason, "edge rejected")

	// 节点写入不受影响
	assert.NotEmpty(t, st.GraphNodes)
}

func TestBuildMovementEdges_ResolvedOnly(t *testing.T) {
	engine := newTestEngine(t)

	trackA := types.Tracklet{TrackID: "trk_a", ClipID: "clip_a", CameraID: "cam_a",
		EntityType: types.EntityPerson, Label: "person_p1", TStart: 10, TEnd: 12}
	trackB := types.Tracklet{TrackID: "trk_b", ClipID: "clip_b", CameraID: "cam_b",
		EntityType: types.EntityPerson, Label: "person_p1", TStart: 30, TEnd: 33}
	trackByID := map[string]types.Tracklet{"trk_a": trackA, "trk_b": trackB}

	st := NewRunState("run-move", types.QueryRequest{QueryID: "q"})
	st.Evidence.Register("trk_b", evidenceRef("clip_b", 30, 33))

	st.EntityLinks = []types.EntityLink{
		{EntityID: "ent_p", EntityType: types.EntityPerson, Label: "person_p1",
			TrackIDs: []string{"trk_a", "trk_b"}, Confidence: 0.8, Resolved: true},
	}
	edges := engine.buildMovementEdges(st, trackByID)
	require.Len(t, edges, 1)
	assert.Equal(t, types.EdgeMovesTo, edges[0].Type)
	assert.Equal(t, "cam_b", edges[0].To)
	assert.NotEmpty(t, edges[0].EvidenceRefs)

	// unresolved 链接不产生任何移动主张
	st.EntityLinks[0].Resolved = false
	assert.Empty(t, engine.buildMovementEdges(st, trackByID))
}

// 同一状态重放：自然键合并不产生重复节点或边
func TestStageMemorize_ReplayMergesByNaturalKey(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	st := memorizeState(true)
	require.NoError(t, engine.stageMemorize(ctx, st, ModePrimary))
	nodes, edges := len(st.GraphNodes), len(st.GraphEdges)

	replay := memorizeState(true)
	require.NoError(t, engine.stageMemorize(ctx, replay, ModePrimary))

	assert.Equal(t, nodes, len(replay.GraphNodes))
	assert.Equal(t, edges, len(replay.GraphEdges))

	stored, err := engine.Graph().Edges(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, edges)
}
